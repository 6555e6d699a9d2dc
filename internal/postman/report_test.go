package postman

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleReport = `{
  "collection": {"info": {"name": "us/pay"}},
  "run": {
    "executions": [
      {
        "item": {"name": "Create order", "path": ["all", "orders"]},
        "assertions": [
          {"assertion": "status is 201", "error": null},
          {"assertion": "body has id", "error": null}
        ]
      },
      {
        "item": {"name": "Pay order", "path": ["us", "orders"]},
        "assertions": [
          {"assertion": "status is 200",
           "error": {"name": "AssertionError", "message": "expected 200 but got 502"}}
        ]
      }
    ]
  }
}`

func TestAllCollectionsRan(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  bool
	}{
		{"no paths", nil, false},
		{"reports only", []string{"newman/reports/us_pay.json"}, false},
		{"marker present", []string{"newman/reports/us_pay.json", "newman/result.txt"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllCollectionsRan(tt.paths); got != tt.want {
				t.Errorf("AllCollectionsRan() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractScenarios(t *testing.T) {
	report, err := Parse([]byte(sampleReport))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	position := 0
	scenarios := ExtractScenarios(report, "newman/reports/us_pay.json", &position)
	if len(scenarios) != 2 {
		t.Fatalf("scenarios = %d, want 2", len(scenarios))
	}

	created := scenarios[0]
	if created.Name != "us/pay ▶ all ▶ orders ▶ Create order" {
		t.Errorf("Name = %q", created.Name)
	}
	if created.ScenarioKey != "newman/reports/us_pay.json#1" {
		t.Errorf("ScenarioKey = %q", created.ScenarioKey)
	}
	if !created.Passed() {
		t.Errorf("request without assertion errors should pass: %+v", created.Errors)
	}

	paid := scenarios[1]
	if paid.Passed() {
		t.Error("request with a failed assertion should not pass")
	}
	if len(paid.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(paid.Errors))
	}
	if paid.Errors[0].Step != "status is 200" {
		t.Errorf("error step = %q", paid.Errors[0].Step)
	}
	if paid.Errors[0].Exception != "AssertionError: expected 200 but got 502" {
		t.Errorf("error exception = %q", paid.Errors[0].Exception)
	}
}

// Two collections of the same run share the position counter, so keys stay
// unique across report files.
func TestExtractScenariosSharedPositions(t *testing.T) {
	report, err := Parse([]byte(sampleReport))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	position := 0
	first := ExtractScenarios(report, "newman/reports/a.json", &position)
	second := ExtractScenarios(report, "newman/reports/b.json", &position)

	var keys []string
	for _, s := range append(first, second...) {
		keys = append(keys, s.ScenarioKey)
	}
	want := []string{
		"newman/reports/a.json#1",
		"newman/reports/a.json#2",
		"newman/reports/b.json#3",
		"newman/reports/b.json#4",
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("scenario keys mismatch (-want +got):\n%s", diff)
	}
}
