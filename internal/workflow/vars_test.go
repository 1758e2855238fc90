package workflow

import (
	"reflect"
	"testing"
)

func TestBuildVarMap(t *testing.T) {
	t.Setenv("QC_HOME", "/srv/qc")
	t.Setenv("QC_VAR_REGION", "eu")

	def := &Definition{Name: "daily", Vars: map[string]string{"region": "us", "bucket": "prices"}}
	vars := BuildVarMap(def, "sync")

	want := map[string]string{
		"workflow": "daily",
		"step_id":  "sync",
		"home":     "/srv/qc",
		"region":   "eu",
		"bucket":   "prices",
	}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("BuildVarMap() = %v, want %v", vars, want)
	}
}

func TestBuildVarMap_DefaultHome(t *testing.T) {
	t.Setenv("QC_HOME", "")
	vars := BuildVarMap(&Definition{Name: "daily"}, "sync")
	if vars["home"] != ".quotacycle" {
		t.Errorf("home = %q, want .quotacycle", vars["home"])
	}
}

func TestValidatePlaceholders(t *testing.T) {
	vars := map[string]string{"workflow": "daily", "step_id": "sync"}

	unknown, used := ValidatePlaceholders(`{workflow}/{step_id}/{workflow}/{nope}/\{escaped}`, vars)
	if !reflect.DeepEqual(unknown, []string{"nope"}) {
		t.Errorf("unknown = %v, want [nope]", unknown)
	}
	if !reflect.DeepEqual(used, []string{"workflow", "step_id"}) {
		t.Errorf("used = %v, want [workflow step_id]", used)
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"workflow": "daily", "step_id": "sync"}

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "no placeholders", text: "--full", want: "--full"},
		{name: "single", text: "--step={step_id}", want: "--step=sync"},
		{name: "repeated", text: "{workflow}-{workflow}", want: "daily-daily"},
		{name: "escaped brace", text: `\{workflow}`, want: "{workflow}"},
		{name: "unknown", text: "{region}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.text, vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}
