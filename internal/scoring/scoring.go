// Package scoring computes the deterministic 0-100 verification score and
// maps it onto a decision. Two decision policies coexist on purpose: the
// automatic post-OCR policy never rejects without human review, while the
// explicit evaluation policy may auto-reject below a configurable floor.
// Collapsing the two would regress the product contract.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/parser"
)

// Decision vocabulary. The post-OCR pathway and the explicit pathway use
// distinct decision strings; consumers match on them.
const (
	DecisionAutoApproved        = "auto_approved"
	DecisionPendingManualReview = "pending_manual_review"

	DecisionAutoApprove = "auto_approve"
	DecisionAutoReject  = "auto_reject"
	DecisionNeedsReview = "needs_review"
)

// PostOCRThreshold is the fixed conservative threshold for the automatic
// pathway. Not configurable.
const PostOCRThreshold = 75

// Thresholds configure the explicit evaluation pathway.
type Thresholds struct {
	AutoApprove int
	AutoReject  int
}

// Result is the outcome of one scoring pass.
type Result struct {
	Score    int      `json:"score"`
	Decision string   `json:"decision"`
	Reasons  []string `json:"reasons"`
}

var (
	nik16    = regexp.MustCompile(`^\d{16}$`)
	npwpFull = regexp.MustCompile(`^\d{2}\.\d{3}\.\d{3}\.\d-\d{3}\.\d{3}$`)
)

// OCRConfidence estimates text extraction quality on a 0-100 scale. It is a
// pure function of the raw text.
func OCRConfidence(text string) int {
	if len(text) < 50 {
		return 20
	}
	total := 0
	clean := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			clean++
		}
	}
	conf := 50.0 + 30.0*float64(clean)/float64(total)

	longLines := 0
	for _, line := range strings.Split(text, "\n") {
		if len(line) > 5 {
			longLines++
		}
	}
	if longLines >= 3 {
		conf += 15
	}
	if len(text) > 200 {
		conf += 5
	}
	if conf > 100 {
		conf = 100
	}
	return int(math.Round(conf))
}

// Score computes the deterministic score and factor breakdown for docType.
// It does not decide; callers apply one of the two decision policies.
func Score(docType domain.DocumentType, fields parser.Fields, ocrText string) (int, []string) {
	conf := OCRConfidence(ocrText)
	switch docType {
	case domain.DocTypeNPWP:
		return scoreNPWP(fields, conf)
	default:
		return scoreKTP(fields, conf)
	}
}

func scoreKTP(f parser.Fields, conf int) (int, []string) {
	score := 0
	reasons := make([]string, 0, 5)

	if nik16.MatchString(f.NIK) {
		score += 30
		reasons = append(reasons, "NIK valid (+30)")
	} else {
		reasons = append(reasons, "NIK missing or malformed (0)")
	}
	if len(f.Name) >= 3 {
		score += 20
		reasons = append(reasons, "name present (+20)")
	} else {
		reasons = append(reasons, "name missing (0)")
	}
	if f.BirthDate != "" {
		score += 15
		reasons = append(reasons, "birth date present (+15)")
	} else {
		reasons = append(reasons, "birth date missing (0)")
	}
	if len(f.Address) >= 10 {
		score += 15
		reasons = append(reasons, "address present (+15)")
	} else {
		reasons = append(reasons, "address missing (0)")
	}
	confPts := conf * 20 / 100
	score += confPts
	reasons = append(reasons, fmt.Sprintf("OCR confidence %d (+%d)", conf, confPts))

	if score > 100 {
		score = 100
	}
	return score, reasons
}

func scoreNPWP(f parser.Fields, conf int) (int, []string) {
	score := 0
	reasons := make([]string, 0, 3)

	if npwpFull.MatchString(f.NPWPNumber) {
		score += 40
		reasons = append(reasons, "NPWP number valid (+40)")
	} else {
		reasons = append(reasons, "NPWP number missing or malformed (0)")
	}
	if len(f.Name) >= 3 {
		score += 30
		reasons = append(reasons, "name present (+30)")
	} else {
		reasons = append(reasons, "name missing (0)")
	}
	confPts := conf * 30 / 100
	score += confPts
	reasons = append(reasons, fmt.Sprintf("OCR confidence %d (+%d)", conf, confPts))

	if score > 100 {
		score = 100
	}
	return score, reasons
}

// DecidePostOCR applies the conservative automatic policy: approval at the
// fixed threshold, escalation otherwise. Never rejects.
func DecidePostOCR(docType domain.DocumentType, fields parser.Fields, ocrText string) Result {
	score, reasons := Score(docType, fields, ocrText)
	if score >= PostOCRThreshold {
		reasons = append(reasons, fmt.Sprintf("Score %d meets auto-approval threshold %d", score, PostOCRThreshold))
		return Result{Score: score, Decision: DecisionAutoApproved, Reasons: reasons}
	}
	reasons = append(reasons, fmt.Sprintf("Score %d requires manual review", score))
	return Result{Score: score, Decision: DecisionPendingManualReview, Reasons: reasons}
}

// DecideExplicit applies the client-initiated policy with configurable
// thresholds; rejection here is a deliberate product decision.
func DecideExplicit(docType domain.DocumentType, fields parser.Fields, ocrText string, t Thresholds) Result {
	score, reasons := Score(docType, fields, ocrText)
	switch {
	case score >= t.AutoApprove:
		reasons = append(reasons, fmt.Sprintf("Score %d meets auto-approval threshold %d", score, t.AutoApprove))
		return Result{Score: score, Decision: DecisionAutoApprove, Reasons: reasons}
	case score <= t.AutoReject:
		reasons = append(reasons, fmt.Sprintf("Score %d at or below auto-reject threshold %d", score, t.AutoReject))
		return Result{Score: score, Decision: DecisionAutoReject, Reasons: reasons}
	default:
		reasons = append(reasons, fmt.Sprintf("Score %d requires manual review", score))
		return Result{Score: score, Decision: DecisionNeedsReview, Reasons: reasons}
	}
}
