package models

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateStatement(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		wantErr   error
	}{
		{"valid", "Ich schaffe das nie!", nil},
		{"empty", "", ErrEmptyStatement},
		{"whitespace only", "   \n\t", ErrEmptyStatement},
		{"at limit", strings.Repeat("ä", MaxStatementLength), nil},
		{"too long", strings.Repeat("a", MaxStatementLength+1), ErrStatementTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStatement(tt.statement)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateStatement() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnalyzeRequestValidate(t *testing.T) {
	req := AnalyzeRequest{Statement: "Alle sind gegen mich", CurrentLevel: 6}
	if err := req.Validate(); err == nil {
		t.Error("expected out-of-range level to be rejected")
	}
	req.CurrentLevel = 0
	if err := req.Validate(); err != nil {
		t.Errorf("expected unset level to be accepted, got %v", err)
	}
}

func TestProficiencyLevelClamp(t *testing.T) {
	cases := map[ProficiencyLevel]ProficiencyLevel{-3: 1, 0: 1, 1: 1, 3: 3, 5: 5, 9: 5}
	for in, want := range cases {
		if got := in.Clamp(); got != want {
			t.Errorf("Clamp(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPatternCategoryIsValid(t *testing.T) {
	for _, c := range PatternCategories {
		if !c.IsValid() {
			t.Errorf("expected %q to be valid", c)
		}
	}
	if PatternCategory("mind_reading").IsValid() {
		t.Error("expected unknown category to be invalid")
	}
}

func TestLifeWheelRequestValidate(t *testing.T) {
	ok := LifeWheelRequest{Areas: []LifeWheelArea{{Name: "Gesundheit", CurrentValue: 6, TargetValue: 9}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := LifeWheelRequest{Areas: []LifeWheelArea{{Name: "Beruf", CurrentValue: 11}}}
	if err := bad.Validate(); !errors.Is(err, ErrAreaValueOutOfRange) {
		t.Errorf("expected ErrAreaValueOutOfRange, got %v", err)
	}

	unnamed := LifeWheelRequest{Areas: []LifeWheelArea{{Name: " ", CurrentValue: 3}}}
	if err := unnamed.Validate(); !errors.Is(err, ErrEmptyAreaName) {
		t.Errorf("expected ErrEmptyAreaName, got %v", err)
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Blocked("answer three prompts first", map[string]int{"exchanges": 1})
	if resp.Status != string(APIStatusBlocked) || resp.Message == "" || resp.Result == nil {
		t.Errorf("unexpected blocked response: %+v", resp)
	}
	if Error("boom").Status != string(APIStatusError) {
		t.Error("Error() should set error status")
	}
}
