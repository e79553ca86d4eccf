package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/shlex"
	"github.com/shopspring/decimal"

	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/session"
)

var errQuit = errors.New("quit")

const usage = `commands:
  join                          request to join the zone
  leave                         withdraw the join request
  state                         print the join state
  identities                    list this device's identities
  players                       list the other members
  identity NAME                 create an identity
  rename-identity ID NAME       rename an identity
  delete-identity ID            hide an identity
  restore-identity ID           unhide an identity
  transfer FROM TO[,TO] VALUE   pay VALUE from identity FROM to each member TO
  game-name NAME                rename the zone
  quit                          leave and exit
`

// repl runs one command line at a time against a session.
type repl struct {
	s       *session.Session
	out     io.Writer
	token   string
	timeout time.Duration
}

func newREPL(s *session.Session, out io.Writer) *repl {
	return &repl{s: s, out: out, timeout: 30 * time.Second}
}

// exec runs line. It returns errQuit for the quit command.
func (r *repl) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(r.out, usage)
	case "join":
		if r.token == "" {
			r.token = session.NewToken()
		}
		r.s.RequestJoin(r.token, true)
	case "leave":
		if r.token != "" {
			r.s.UnrequestJoin(r.token)
			r.token = ""
		}
	case "state":
		fmt.Fprintln(r.out, r.s.State())
	case "identities":
		r.list(func(v *replica.Replica) []model.Member { return v.Identities() })
	case "players":
		r.list(func(v *replica.Replica) []model.Member { return v.OtherMembers() })
	case "identity":
		if len(args) == 0 {
			return errors.New("usage: identity NAME")
		}
		return r.wait(func(done session.Result) {
			r.s.CreateIdentity(strings.Join(args, " "), done)
		})
	case "rename-identity":
		if len(args) < 2 {
			return errors.New("usage: rename-identity ID NAME")
		}
		return r.wait(func(done session.Result) {
			r.s.ChangeIdentityName(model.MemberID(args[0]), strings.Join(args[1:], " "), done)
		})
	case "delete-identity", "restore-identity":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s ID", cmd)
		}
		id := model.MemberID(args[0])
		return r.wait(func(done session.Result) {
			if cmd == "delete-identity" {
				r.s.DeleteIdentity(id, done)
			} else {
				r.s.RestoreIdentity(id, done)
			}
		})
	case "transfer":
		if len(args) != 3 {
			return errors.New("usage: transfer FROM TO[,TO] VALUE")
		}
		value, err := decimal.NewFromString(args[2])
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		var to []model.MemberID
		for _, id := range strings.Split(args[1], ",") {
			to = append(to, model.MemberID(id))
		}
		return r.wait(func(done session.Result) {
			r.s.TransferToPlayer(model.MemberID(args[0]), to, value, done)
		})
	case "game-name":
		if len(args) == 0 {
			return errors.New("usage: game-name NAME")
		}
		return r.wait(func(done session.Result) {
			r.s.ChangeGameName(strings.Join(args, " "), done)
		})
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

// wait issues an intent and blocks until its result arrives.
func (r *repl) wait(issue func(done session.Result)) error {
	result := make(chan error, 1)
	issue(func(err error) { result <- err })
	select {
	case err := <-result:
		if err == nil {
			fmt.Fprintln(r.out, "ok")
		}
		return err
	case <-time.After(r.timeout):
		return errors.New("timed out waiting for the server")
	}
}

func (r *repl) list(members func(*replica.Replica) []model.Member) {
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	ok := r.s.View(func(v *replica.Replica) {
		if !v.Valid() {
			return
		}
		fmt.Fprintln(w, "ID\tNAME\tBALANCE\tSTATUS")
		online := make(map[model.MemberID]bool)
		for _, m := range v.ConnectedMembers() {
			online[m.ID] = true
		}
		for _, m := range members(v) {
			var status []string
			if m.Hidden() {
				status = append(status, "hidden")
			}
			if online[m.ID] {
				status = append(status, "online")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, v.MemberBalance(m.ID).StringFixed(2), strings.Join(status, ","))
		}
	})
	if !ok {
		fmt.Fprintln(r.out, "session closed")
		return
	}
	w.Flush()
}
