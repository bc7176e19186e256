package engine

import (
	"testing"

	"github.com/fawad-mazhar/syros/internal/models"
)

func baseTask() models.Task {
	return models.Task{
		ID:             7,
		Fields:         map[string]string{"en": "hello", "ru": "привет", "speaker": "guide"},
		Context:        "Prev: welcome",
		TargetLang:     "zh-CN",
		GlossaryDigest: "abc123",
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(baseTask())
	b := Fingerprint(baseTask())
	if a != b {
		t.Fatalf("same task produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex, got %d chars", len(a))
	}
}

func TestFingerprintIgnoresRowIndex(t *testing.T) {
	a := baseTask()
	b := baseTask()
	b.ID = 9001
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("row index must not affect the fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(baseTask())

	mutations := map[string]func(*models.Task){
		"field value":     func(tk *models.Task) { tk.Fields["en"] = "goodbye" },
		"field name":      func(tk *models.Task) { delete(tk.Fields, "en"); tk.Fields["en2"] = "hello" },
		"context":         func(tk *models.Task) { tk.Context = "Prev: farewell" },
		"target language": func(tk *models.Task) { tk.TargetLang = "ja-JP" },
		"glossary digest": func(tk *models.Task) { tk.GlossaryDigest = "def456" },
	}

	for name, mutate := range mutations {
		tk := baseTask()
		mutate(&tk)
		if Fingerprint(tk) == base {
			t.Errorf("changing %s should change the fingerprint", name)
		}
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	a := models.Task{Fields: map[string]string{"ab": "c"}, TargetLang: "zh-CN"}
	b := models.Task{Fields: map[string]string{"a": "bc"}, TargetLang: "zh-CN"}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("field name/value boundaries must be unambiguous")
	}
}
