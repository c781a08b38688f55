package ingestion

import (
	"path"
	"strings"
)

// DocMeta holds the document type and display label inferred from an
// attachment's object storage key. Dump-supplied summaries take precedence;
// this is the best-effort fallback when the scraper didn't produce one.
type DocMeta struct {
	// DocType classifies the document kind (preapproval, loan_estimate,
	// closing_disclosure, inspection, listing, image, document).
	DocType string
	// Label is a short human-readable description shown as the attachment
	// summary.
	Label string
}

// keywordDocTypes maps filename keywords to the canonical document type.
// Checked in order so more specific phrases win over generic ones.
var keywordDocTypes = []struct {
	keyword string
	docType string
	label   string
}{
	{"preapproval", "preapproval", "Mortgage pre-approval letter"},
	{"pre-approval", "preapproval", "Mortgage pre-approval letter"},
	{"loan-estimate", "loan_estimate", "Loan estimate"},
	{"loan_estimate", "loan_estimate", "Loan estimate"},
	{"closing-disclosure", "closing_disclosure", "Closing disclosure"},
	{"closing_disclosure", "closing_disclosure", "Closing disclosure"},
	{"inspection", "inspection", "Home inspection report"},
	{"appraisal", "appraisal", "Appraisal report"},
	{"listing", "listing", "Property listing"},
	{"rate-sheet", "rate_sheet", "Lender rate sheet"},
	{"rate_sheet", "rate_sheet", "Lender rate sheet"},
}

// imageExtensions are treated as screenshots rather than documents.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// InferDocMeta inspects an attachment's storage key and returns best-effort
// metadata. If the key doesn't match any known pattern the returned fields
// contain sensible defaults ("document", "Uploaded document").
//
// Example keys:
//
//	attachments/123/preapproval-letter.pdf
//	attachments/456/loan-estimate-page1.png
//	attachments/789/IMG_2041.jpeg
func InferDocMeta(key string) DocMeta {
	m := DocMeta{
		DocType: "document",
		Label:   "Uploaded document",
	}

	base := strings.ToLower(path.Base(key))
	if base == "." || base == "/" || base == "" {
		return m
	}

	for _, kw := range keywordDocTypes {
		if strings.Contains(base, kw.keyword) {
			m.DocType = kw.docType
			m.Label = kw.label
			return m
		}
	}

	if imageExtensions[path.Ext(base)] {
		m.DocType = "image"
		m.Label = "Uploaded screenshot"
	}

	return m
}
