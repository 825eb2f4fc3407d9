package irl

import (
	"errors"
	"strings"
	"time"

	"github.com/AlexTLDR/irl/internal/utils"
	"go.uber.org/multierr"
)

// Validation codes surfaced to the form
const (
	ErrCodeSelectGathering      = "SELECT_GATHERING"
	ErrCodeSelectMember         = "SELECT_MEMBER"
	ErrCodeInviteOnly           = "INVITE_ONLY"
	ErrCodeCheckOutDateRequired = "CHECKOUT_DATE_REQUIRED"
	ErrCodeCheckInDateRequired  = "CHECKIN_DATE_REQUIRED"
	ErrCodeDateDifference       = "DATE_DIFFERENCE"
	ErrCodeInvalidDate          = "INVALID_DATE"
)

// FormErrors groups validation failures by the form region showing them
type FormErrors struct {
	GatheringErrors     []string `json:"gatheringErrors"`
	ParticipationErrors []string `json:"participationErrors"`
	DateErrors          []string `json:"dateErrors"`
}

// Empty reports whether every bucket is empty
func (e FormErrors) Empty() bool {
	return len(e.GatheringErrors) == 0 && len(e.ParticipationErrors) == 0 && len(e.DateErrors) == 0
}

// Has reports whether code appears in any bucket
func (e FormErrors) Has(code string) bool {
	for _, bucket := range [][]string{e.GatheringErrors, e.ParticipationErrors, e.DateErrors} {
		for _, c := range bucket {
			if c == code {
				return true
			}
		}
	}
	return false
}

// Err combines every code into a single error, nil when empty
func (e FormErrors) Err() error {
	var err error
	for _, bucket := range [][]string{e.GatheringErrors, e.ParticipationErrors, e.DateErrors} {
		for _, c := range bucket {
			err = multierr.Append(err, errors.New(c))
		}
	}
	return err
}

// Validate runs every rule over a submission and accumulates all failures
func Validate(s Submission) FormErrors {
	errs := FormErrors{
		GatheringErrors:     []string{},
		ParticipationErrors: []string{},
		DateErrors:          []string{},
	}

	if len(s.Events) == 0 {
		errs.GatheringErrors = append(errs.GatheringErrors, ErrCodeSelectGathering)
	}

	for _, e := range s.Events {
		errs.ParticipationErrors = append(errs.ParticipationErrors, subEventErrors(e.HostSubEvents)...)
		errs.ParticipationErrors = append(errs.ParticipationErrors, subEventErrors(e.SpeakerSubEvents)...)
	}

	if strings.TrimSpace(s.MemberUID) == "" {
		errs.GatheringErrors = append(errs.GatheringErrors, ErrCodeSelectMember)
	}

	if code := dateError(s.AdditionalInfo); code != "" {
		errs.DateErrors = append(errs.DateErrors, code)
	}

	return errs
}

func subEventErrors(list []SubEvent) []string {
	var out []string
	for _, se := range list {
		if strings.TrimSpace(se.Name) == "" {
			out = append(out, se.ID+"-name")
		}
		if strings.TrimSpace(se.Link) == "" || !utils.IsValidLink(se.Link) {
			out = append(out, se.ID+"-link")
		}
	}
	return out
}

// dateError returns at most one date code
func dateError(info AdditionalInfo) string {
	in := strings.TrimSpace(info.CheckInDate)
	out := strings.TrimSpace(info.CheckOutDate)

	if in != "" && out == "" {
		return ErrCodeCheckOutDateRequired
	} else if out != "" && in == "" {
		return ErrCodeCheckInDateRequired
	} else if in != "" && out != "" {
		checkIn, errIn := parseDate(in)
		checkOut, errOut := parseDate(out)
		if errIn != nil || errOut != nil {
			return ErrCodeInvalidDate
		}
		if checkIn.After(checkOut) {
			return ErrCodeDateDifference
		}
	}
	return ""
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
