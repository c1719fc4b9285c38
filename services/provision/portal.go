package provision

import (
	"context"

	"autovolume-go/errcode"
)

// Submission is one filled-in setup form.
type Submission struct {
	Nonce     string
	SSID      string
	Password  string
	AccountID string

	reply chan Reply
}

// Reply tells the submitter what happened to the form.
type Reply struct {
	Code errcode.Code
	Msg  string
}

func (r Reply) OK() bool { return r.Code == errcode.OK }

// NewSubmission builds a submission with a reply slot.
func NewSubmission(nonce, ssid, pass, account string) *Submission {
	return &Submission{
		Nonce:     nonce,
		SSID:      ssid,
		Password:  pass,
		AccountID: account,
		reply:     make(chan Reply, 1),
	}
}

// Respond delivers r once; later calls are dropped.
func (s *Submission) Respond(r Reply) {
	select {
	case s.reply <- r:
	default:
	}
}

// Reply returns the channel the portal waits on.
func (s *Submission) Reply() <-chan Reply { return s.reply }

// Portal is the user-facing form. Open is called once per attempt with a
// fresh nonce; Close ends the attempt.
type Portal interface {
	Open(ctx context.Context, apName, nonce string) (<-chan *Submission, error)
	Close() error
}
