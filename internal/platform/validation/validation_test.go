package validation

import (
	"errors"
	"testing"
	"time"
)

type searchCommand struct {
	Origin   string    `json:"origin" validate:"required,portcode"`
	DateFrom time.Time `json:"date_from" validate:"required"`
	DateTo   time.Time `json:"date_to" validate:"required,dateorder=DateFrom"`
	Volume   int       `json:"volume" validate:"min=1"`
}

func TestStruct(t *testing.T) {
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	valid := searchCommand{Origin: "BRSSZ", DateFrom: day, DateTo: day, Volume: 1}
	if err := Struct(valid); err != nil {
		t.Fatalf("expected valid command, got %v", err)
	}

	invalid := searchCommand{Origin: "santos", DateFrom: day, DateTo: day.AddDate(0, 0, -1)}
	err := Struct(invalid)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	rules := map[string]string{}
	for _, f := range verr.Fields {
		rules[f.Rule] = f.Field
	}
	for _, rule := range []string{"portcode", "dateorder", "min"} {
		if _, ok := rules[rule]; !ok {
			t.Fatalf("expected %s failure, got %+v", rule, verr.Fields)
		}
	}
	if rules["portcode"] != "searchCommand.origin" {
		t.Fatalf("expected json field names, got %s", rules["portcode"])
	}
}

func TestPortCode(t *testing.T) {
	for code, want := range map[string]bool{"BRSSZ": true, "USNYC": true, "CN2AB": true, "brssz": false, "BRSS": false} {
		if got := PortCode(code); got != want {
			t.Fatalf("PortCode(%q) = %v, want %v", code, got, want)
		}
	}
}
