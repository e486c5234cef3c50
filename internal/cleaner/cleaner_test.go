package cleaner

import (
	"testing"
	"time"

	"github.com/evyataryagoni/membermap/internal/models"
)

// TestClean_AddressFromVillePays tests address reconstruction
func TestClean_AddressFromVillePays(t *testing.T) {
	tests := []struct {
		name     string
		ville    string
		pays     string
		address  string
		expected string
	}{
		{"both present", "Lyon", "France", "garbage", "Lyon France"},
		{"ville only", "Lyon", "", "garbage", "Lyon"},
		{"pays only", "", "France", "garbage", "France"},
		{"whitespace trimmed", "  Lyon ", " France", "x", "Lyon France"},
		{"neither keeps address", "", "", "1 Rue de Rivoli", "1 Rue de Rivoli"},
		{"blank fields keep address", "  ", "", "Place Bellecour", "Place Bellecour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(models.Member{Ville: tt.ville, Pays: tt.pays, Address: tt.address})
			if got.Address != tt.expected {
				t.Errorf("expected address %q, got %q", tt.expected, got.Address)
			}
		})
	}
}

// TestClean_Description tests the description rules
func TestClean_Description(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"poste with ville line", "Poste: Trésorier\nVille: Lyon", "Poste: Trésorier"},
		{"poste pipe separated", "Poste: Membre | Ville: Paris | Pays: France", "Poste: Membre"},
		{"poste in the middle", "Fondateur\nposte:  Président  \nPays: France", "Poste: Président"},
		{"poste without value", "Poste:", "Poste:"},
		{"strip ville and pays lines", "Membre fondateur\nVille: Paris\npays: France", "Membre fondateur"},
		{"strip indented lines", "Notes\n  VILLE: Lyon\nsuite", "Notes\nsuite"},
		{"untouched", "Responsable communication", "Responsable communication"},
		{"empty", "", ""},
		{"only location lines", "Ville: Lyon\nPays: France", ""},
		{"ville mentioned mid-line", "Habite la Ville: Lyon", "Habite la Ville: Lyon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(models.Member{Description: tt.input})
			if got.Description != tt.expected {
				t.Errorf("expected description %q, got %q", tt.expected, got.Description)
			}
		})
	}
}

// TestClean_PassThrough tests that other fields are not modified
func TestClean_PassThrough(t *testing.T) {
	now := time.Now().UTC()
	in := models.Member{
		ID:          "m-1",
		Name:        "Jean Dupont",
		Latitude:    48.8566,
		Longitude:   2.3522,
		Address:     "1 Rue de Rivoli",
		Description: "Membre fondateur",
		Poste:       "Président",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	got := Clean(in)

	if got != in {
		t.Errorf("expected record unchanged, got %+v", got)
	}
}

// TestClean_Idempotent tests clean(clean(x)) == clean(x)
func TestClean_Idempotent(t *testing.T) {
	inputs := []models.Member{
		{Ville: "Lyon", Pays: "France", Address: "garbage", Description: "Poste: Trésorier\nVille: Lyon"},
		{Description: "Poste: Membre | Ville: Paris"},
		{Description: "a\nVille: b\nc\nPays: d"},
		{Description: "Poste:"},
		{Description: "İstanbul poste: Secrétaire"},
		{Ville: " Marseille ", Description: "\n\nVille: x\n"},
		{},
	}

	for i, in := range inputs {
		once := Clean(in)
		twice := Clean(once)
		if once != twice {
			t.Errorf("case %d: not idempotent: %+v != %+v", i, once, twice)
		}
	}
}

// TestCleanAll tests that the input slice is not modified
func TestCleanAll(t *testing.T) {
	in := []models.Member{
		{ID: "1", Ville: "Lyon", Address: "x"},
		{ID: "2", Description: "Pays: France"},
	}

	out := CleanAll(in)

	if len(out) != 2 {
		t.Fatalf("expected 2 members, got %d", len(out))
	}
	if out[0].Address != "Lyon" || out[1].Description != "" {
		t.Errorf("unexpected cleaned output: %+v", out)
	}
	if in[0].Address != "x" || in[1].Description != "Pays: France" {
		t.Error("expected input slice to be left untouched")
	}
}
