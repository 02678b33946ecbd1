package identity_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/npcvoice/internal/identity"
	"github.com/MrWong99/npcvoice/pkg/types"
)

func TestLoad_Colonel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identities.json")
	data := `{"Colonel": {"gender":"GENDER_MALE","group_name":"Nemesis","description":"Leads the garrison."}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := identity.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id, ok := r.Resolve("Colonel")
	if !ok {
		t.Fatal("Resolve(Colonel): not found")
	}
	if id.Gender != types.GenderMale {
		t.Errorf("Gender = %q, want %q", id.Gender, types.GenderMale)
	}
	if id.Group != "Nemesis" {
		t.Errorf("Group = %q, want Nemesis", id.Group)
	}
	if id.Description != "Leads the garrison." {
		t.Errorf("Description = %q", id.Description)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	female := identity.GenderFemale
	r := identity.NewResolver(identity.Dataset{
		"Mira":    {Gender: &female, GroupName: "Smiths"},
		"Hooded":  {Gender: nil, GroupName: "Bandits"},
		"Colonel": {Gender: nil, GroupName: "Nemesis"},
	})

	tests := []struct {
		name      string
		query     string
		wantOK    bool
		wantGroup string
		wantG     types.Gender
	}{
		{name: "female", query: "Mira", wantOK: true, wantGroup: "Smiths", wantG: types.GenderFemale},
		{name: "null gender is neuter", query: "Hooded", wantOK: true, wantGroup: "Bandits", wantG: types.GenderNeuter},
		{name: "case sensitive", query: "colonel", wantOK: false, wantG: types.GenderNeuter},
		{name: "unknown", query: "Nobody", wantOK: false, wantG: types.GenderNeuter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, ok := r.Resolve(tt.query)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if id.DisplayName != tt.query {
				t.Errorf("DisplayName = %q, want %q", id.DisplayName, tt.query)
			}
			if id.Group != tt.wantGroup {
				t.Errorf("Group = %q, want %q", id.Group, tt.wantGroup)
			}
			if id.Gender != tt.wantG {
				t.Errorf("Gender = %q, want %q", id.Gender, tt.wantG)
			}
		})
	}
}

func TestResolve_NilResolver(t *testing.T) {
	t.Parallel()

	var r *identity.Resolver
	if _, ok := r.Resolve("Colonel"); ok {
		t.Fatal("nil resolver resolved a name")
	}
	if r.Len() != 0 {
		t.Fatal("nil resolver has entries")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := identity.Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing dataset")
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	guards := `[
	  {
	    "gender": "GENDER_MALE",
	    "group_name": "guards",
	    "defaults": {"group_description": "City Guard", "description": "Keeps the peace."},
	    "levels": [
	      {"display_names": ["Colonel", "Sergeant"]},
	      {"display_names": ["Colonel", "Captain"]}
	    ]
	  },
	  {
	    "gender": "GENDER_FEMALE",
	    "group_name": "Smiths",
	    "defaults": {"group_description": ""},
	    "levels": [{"display_names": ["Mira"]}]
	  }
	]`
	rebels := `{
	  "gender": null,
	  "group_name": "Nemesis",
	  "levels": [{"display_names": ["Colonel", "Shade"]}]
	}`
	orphan := `{"gender": "GENDER_MALE", "levels": [{"display_names": ["Ghost"]}]}`

	res, err := identity.Build([]byte(guards), []byte(rebels), []byte(orphan))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	col, ok := res.Dataset["Colonel"]
	if !ok {
		t.Fatal("Colonel missing")
	}
	if col.GroupName != "City Guard" {
		t.Errorf("Colonel group = %q, want first writer City Guard", col.GroupName)
	}
	if col.Gender == nil || *col.Gender != identity.GenderMale {
		t.Errorf("Colonel gender = %v, want GENDER_MALE", col.Gender)
	}
	if col.Description != "Keeps the peace." {
		t.Errorf("Colonel description = %q", col.Description)
	}

	if got := res.Dataset["Mira"].GroupName; got != "Smiths" {
		t.Errorf("Mira group = %q, want group_name fallback Smiths", got)
	}
	if got := res.Dataset["Shade"]; got.Gender != nil || got.Description != "" {
		t.Errorf("Shade = %+v, want null gender and empty description", got)
	}
	if _, ok := res.Dataset["Ghost"]; ok {
		t.Error("record without group was not skipped")
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}

	// Colonel repeated within one record is not a conflict; across records it is.
	if len(res.Conflicts) != 1 {
		t.Fatalf("Conflicts = %+v, want exactly one", res.Conflicts)
	}
	c := res.Conflicts[0]
	if c.Name != "Colonel" || c.Kept != "City Guard" || c.Rejected != "Nemesis" {
		t.Errorf("conflict = %+v", c)
	}
}

func TestBuild_InvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := identity.Build([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid source")
	}
}

func TestDataset_WriteRoundTrip(t *testing.T) {
	t.Parallel()

	male := identity.GenderMale
	ds := identity.Dataset{"Colonel": {Gender: &male, GroupName: "Nemesis", Description: "d"}}
	var buf bytes.Buffer
	if err := ds.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ds.json")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := identity.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, _ := r.Resolve("Colonel"); id.Gender != types.GenderMale || id.Group != "Nemesis" {
		t.Errorf("round-trip identity = %+v", id)
	}
}
