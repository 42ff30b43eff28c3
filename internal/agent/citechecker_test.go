package agent

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

func TestHasValidCitations(t *testing.T) {
	cases := []struct {
		name      string
		content   string
		citations int
		want      bool
	}{
		{"marked single paragraph", "Hard hats are required [#1].", 1, true},
		{"no markers", "Hard hats are required.", 1, false},
		{"marker out of range", "Hard hats are required [#3].", 1, false},
		{"zero marker", "Hard hats [#0].", 1, false},
		{"low coverage", "First [#1].\n\nSecond paragraph.\n\nThird paragraph.\n\nFourth.\n\nFifth.", 1, false},
		{"full coverage", "First [#1].\n\nSecond [#2].", 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasValidCitations(tc.content, tc.citations); got != tc.want {
				t.Fatalf("HasValidCitations(%q, %d) = %v", tc.content, tc.citations, got)
			}
		})
	}
}

func TestRepairCitations(t *testing.T) {
	repaired := RepairCitations("Hard hats required. Boots required. Glasses required", 3)
	for i := 1; i <= 3; i++ {
		if !strings.Contains(repaired, "[#"+strconv.Itoa(i)+"]") {
			t.Fatalf("marker %d missing after repair: %q", i, repaired)
		}
	}
	if !strings.HasSuffix(repaired, ".") {
		t.Fatalf("repair should end with a period: %q", repaired)
	}
}

func TestRepairStopsWhenCitationsExhausted(t *testing.T) {
	repaired := RepairCitations("One. Two. Three. Four", 2)
	if strings.Contains(repaired, "[#3]") {
		t.Fatalf("repair used more markers than citations: %q", repaired)
	}
}

func TestCiteCheckerRepairsAnswerInPlace(t *testing.T) {
	cc := NewCiteChecker()
	ac := NewContext("corr", nil)
	ac.RequestType = RequestAsk
	ac.Answer = &domain.Answer{
		Content:   "Unmarked claim",
		Citations: []domain.Citation{{ID: "c1", Title: "T"}},
	}
	if err := cc.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ac.Answer.Content, "[#1]") {
		t.Fatalf("answer not repaired: %q", ac.Answer.Content)
	}
	if len(ac.Traces) != 1 || ac.Traces[0].Agent != "cite_checker" {
		t.Fatalf("trace missing: %#v", ac.Traces)
	}
}

func TestExtractPolicyRefs(t *testing.T) {
	body := "Per Policy 4.2 and Section 12, submit Form WS-101. See Regulation 7 and Procedure LOTO-1. Policy 4.2 applies."
	refs := ExtractPolicyRefs(body)
	want := map[string]bool{
		"Policy 4.2": false, "Section 12": false, "Regulation 7": false,
		"Form WS-101": false, "Procedure LOTO-1": false,
	}
	for _, r := range refs {
		if _, ok := want[r]; ok {
			want[r] = true
		}
	}
	for ref, found := range want {
		if !found {
			t.Fatalf("reference %q not extracted: %v", ref, refs)
		}
	}
	// duplicates collapse
	count := 0
	for _, r := range refs {
		if r == "Policy 4.2" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("duplicate references not collapsed: %v", refs)
	}
}

func TestCiteCheckerDraftDoesNotModifyLetter(t *testing.T) {
	cc := NewCiteChecker()
	ac := NewContext("corr", nil)
	ac.RequestType = RequestDraft
	body := "Please review Policy 3.1 before the meeting."
	ac.LetterDraft = &domain.LetterDraft{Subject: "s", Body: body}
	if err := cc.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if ac.LetterDraft.Body != body {
		t.Fatal("draft body modified")
	}
	if ac.PolicyRefs == nil || len(ac.PolicyRefs.References) != 1 {
		t.Fatalf("policy refs: %#v", ac.PolicyRefs)
	}
}
