package provision

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"autovolume-go/errcode"
)

// ConsolePortal takes the setup form as lines on a serial console:
//
//	ssid=<network>
//	pass=<password>
//	account=<account id>
//	save
//
// It serves boards whose radio cannot host an access point.
type ConsolePortal struct {
	log *slog.Logger

	wmu sync.Mutex
	w   io.Writer

	startOnce sync.Once
	r         io.Reader
	lines     chan string

	mu   sync.Mutex
	stop chan struct{}
}

func NewConsolePortal(r io.Reader, w io.Writer, log *slog.Logger) *ConsolePortal {
	if log == nil {
		log = slog.Default()
	}
	return &ConsolePortal{r: r, w: w, log: log.With("svc", "console")}
}

func (p *ConsolePortal) Open(ctx context.Context, apName, nonce string) (<-chan *Submission, error) {
	p.startOnce.Do(func() {
		p.lines = make(chan string, 4)
		go p.readLines()
	})

	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return nil, errcode.Busy
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	subs := make(chan *Submission)
	p.printf("setup %s: enter ssid=, pass=, account= then save\n", apName)
	go p.serve(ctx, subs, nonce, stop)
	return subs, nil
}

func (p *ConsolePortal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	return nil
}

func (p *ConsolePortal) readLines() {
	sc := bufio.NewScanner(p.r)
	for sc.Scan() {
		p.lines <- strings.TrimRight(sc.Text(), "\r")
	}
	if err := sc.Err(); err != nil {
		p.log.Warn("console read", "err", err)
	}
	close(p.lines)
}

func (p *ConsolePortal) serve(ctx context.Context, subs chan<- *Submission, nonce string, stop <-chan struct{}) {
	var ssid, pass, account string
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case l, ok := <-p.lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		key, val, hasVal := strings.Cut(line, "=")
		switch {
		case line == "":
		case hasVal && key == "ssid":
			ssid = val
		case hasVal && key == "pass":
			pass = val
		case hasVal && key == "account":
			account = val
		case line == "help":
			p.printf("ssid=<network> pass=<password> account=<id> save\n")
		case line == "save":
			sub := NewSubmission(nonce, ssid, pass, account)
			select {
			case subs <- sub:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			var rep Reply
			select {
			case rep = <-sub.Reply():
			case <-stop:
				// The session answers before tearing the portal down.
				select {
				case rep = <-sub.Reply():
				default:
					return
				}
			case <-ctx.Done():
				return
			}
			if rep.OK() {
				p.printf("ok: %s\n", rep.Msg)
			} else {
				p.printf("error %s: %s\n", rep.Code, rep.Msg)
			}
			ssid, pass, account = "", "", ""
		default:
			p.printf("error %s: unknown command %q\n", errcode.InvalidParams, line)
		}
	}
}

func (p *ConsolePortal) printf(format string, args ...any) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}
