package search

import "testing"

func Test_TranslateQuery_MapsFieldPrefixes(t *testing.T) {
	q, types, err := translateQuery(`title:login AND tags:auth`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if types != nil {
		t.Fatalf("expected no type filters, got %v", types)
	}

	want := "title:login AND tags_joined:auth"
	if q != want {
		t.Fatalf("got %q, want %q", q, want)
	}
}

func Test_TranslateQuery_ExtractsTypeFilter(t *testing.T) {
	q, types, err := translateQuery(`type:issues login`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(types) != 1 || types[0] != "issues" {
		t.Fatalf("got types %v", types)
	}

	if q != "login" {
		t.Fatalf("got %q", q)
	}
}

func Test_TranslateQuery_NegationShorthand(t *testing.T) {
	q, _, err := translateQuery(`login -draft`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q != "login NOT draft" {
		t.Fatalf("got %q", q)
	}
}

func Test_TranslateQuery_PreservesParensAndPhrases(t *testing.T) {
	q, _, err := translateQuery(`(login OR signup) AND "two factor"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `( login OR signup ) AND "two factor"`
	if q != want {
		t.Fatalf("got %q, want %q", q, want)
	}
}

func Test_TranslateQuery_RejectsUnknownField(t *testing.T) {
	if _, _, err := translateQuery(`bogus:term`); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func Test_TranslateQuery_RejectsUnterminatedQuote(t *testing.T) {
	if _, _, err := translateQuery(`"unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}
