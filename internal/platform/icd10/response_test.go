package icd10

import (
	"errors"
	"testing"
)

func TestParseSearchResponse(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantDesc  string
		wantNil   bool
		wantShape bool
	}{
		{name: "match", body: `[1,["J96.00"],null,[["J96.00","Acute respiratory failure, unspecified whether with hypoxia or hypercapnia"]]]`, wantDesc: "Acute respiratory failure, unspecified whether with hypoxia or hypercapnia"},
		{name: "many matches takes first row", body: `[12,["I10"],null,[["I10","Essential (primary) hypertension"],["I11","Other"]]]`, wantDesc: "Essential (primary) hypertension"},
		{name: "zero matches", body: `[0,[],null,[]]`, wantNil: true},
		{name: "zero matches with missing rows", body: `[0,[],null,null]`, wantNil: true},
		{name: "not json", body: `<html>`, wantShape: true},
		{name: "object", body: `{"a":1}`, wantShape: true},
		{name: "too short", body: `[1,[]]`, wantShape: true},
		{name: "count not a number", body: `["one",[],null,[]]`, wantShape: true},
		{name: "fractional count", body: `[1.5,[],null,[["A","B"]]]`, wantShape: true},
		{name: "negative count", body: `[-1,[],null,[]]`, wantShape: true},
		{name: "count without rows", body: `[1,[],null,[]]`, wantShape: true},
		{name: "row too short", body: `[1,[],null,[["U07.1"]]]`, wantShape: true},
		{name: "description not a string", body: `[1,[],null,[["U07.1",42]]]`, wantShape: true},
		{name: "description null", body: `[1,[],null,[["U07.1",null]]]`, wantShape: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseSearchResponse([]byte(tt.body))
			if tt.wantShape {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("expected ErrMalformedResponse, got %v (match %+v)", err, m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if m != nil {
					t.Errorf("expected nil match, got %+v", m)
				}
				return
			}
			if m == nil || m.Description != tt.wantDesc {
				t.Errorf("expected description %q, got %+v", tt.wantDesc, m)
			}
		})
	}
}
