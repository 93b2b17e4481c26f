package conversation

import (
	"strconv"

	"github.com/harun/printdesk/pkg/printjob"
	"github.com/harun/printdesk/pkg/session"
)

// DirectiveKind is the side effect a decision asks for
type DirectiveKind int

const (
	// DirectiveNone asks for nothing
	DirectiveNone DirectiveKind = iota
	// DirectiveStoreFile asks to download and store the attachment
	DirectiveStoreFile
	// DirectiveSubmit asks to submit the print job
	DirectiveSubmit
	// DirectiveRelease asks to delete a stored file
	DirectiveRelease
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveStoreFile:
		return "store_file"
	case DirectiveSubmit:
		return "submit"
	case DirectiveRelease:
		return "release"
	default:
		return "none"
	}
}

// Directive is a side effect requested by a decision
type Directive struct {
	Kind        DirectiveKind
	Attachment  Attachment
	FileName    string
	Job         printjob.Job
	ReleasePath string
}

// Reason explains a decision, used for logs and audit
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonWelcome           Reason = "welcome"
	ReasonRestart           Reason = "restart"
	ReasonFileRequested     Reason = "file_requested"
	ReasonFileStored        Reason = "file_stored"
	ReasonColorChosen       Reason = "color_chosen"
	ReasonCopiesChosen      Reason = "copies_chosen"
	ReasonInvalidAttachment Reason = "invalid_attachment"
	ReasonInvalidOption     Reason = "invalid_option"
	ReasonInvalidNumber     Reason = "invalid_number"
	ReasonExpectedText      Reason = "expected_text"
	ReasonPrinted           Reason = "printed"
	ReasonPrintFailed       Reason = "print_failed"
	ReasonAborted           Reason = "aborted"
	ReasonExpired           Reason = "expired"
)

// Rejected reports whether the input was refused and the session kept as is
func (r Reason) Rejected() bool {
	switch r {
	case ReasonInvalidAttachment, ReasonInvalidOption, ReasonInvalidNumber, ReasonExpectedText:
		return true
	}
	return false
}

// Decision is the outcome of one step
type Decision struct {
	Next      session.Session
	Notice    string // sent before the directive runs
	Reply     string // sent after the session is persisted
	Directive Directive
	Reason    Reason
}

// Terminal reports whether the flow ended with this decision
func (d Decision) Terminal() bool {
	return d.Next.Status == session.Finished
}

// DefaultGreetings restart the flow from any state
var DefaultGreetings = []string{"oi", "olá", "iniciar"}

// Options configure a Machine
type Options struct {
	Greetings []string
	Messages  Messages
	// ReleaseOnRestart deletes the stored file when a greeting restarts a
	// flow. When false the file is left behind for the orphan sweep.
	ReleaseOnRestart bool
	// MaxCopies rejects larger copy counts; zero means unbounded
	MaxCopies int
}

// DefaultOptions returns the default machine options
func DefaultOptions() Options {
	return Options{
		Greetings:        DefaultGreetings,
		Messages:         DefaultMessages(),
		ReleaseOnRestart: true,
	}
}

// Machine is the conversation state machine. It holds no mutable state and
// is safe for concurrent use.
type Machine struct {
	greetings        map[string]struct{}
	msgs             Messages
	releaseOnRestart bool
	maxCopies        int
}

// New creates a machine. Empty greetings fall back to DefaultGreetings.
func New(opts Options) *Machine {
	greetings := opts.Greetings
	if len(greetings) == 0 {
		greetings = DefaultGreetings
	}

	set := make(map[string]struct{}, len(greetings))
	for _, g := range greetings {
		if g = NormalizeText(g); g != "" {
			set[g] = struct{}{}
		}
	}

	return &Machine{
		greetings:        set,
		msgs:             opts.Messages.withDefaults(),
		releaseOnRestart: opts.ReleaseOnRestart,
		maxCopies:        opts.MaxCopies,
	}
}

// Messages returns the texts the machine replies with
func (m *Machine) Messages() Messages {
	return m.msgs
}

// IsGreeting reports whether text restarts the flow
func (m *Machine) IsGreeting(text string) bool {
	_, ok := m.greetings[NormalizeText(text)]
	return ok
}

// Decide advances the session by one input
func (m *Machine) Decide(s session.Session, in Input) Decision {
	if in.Kind == KindText && m.IsGreeting(in.Text) {
		return m.restart(s)
	}

	switch s.Status {
	case session.AwaitingWelcome, session.Finished:
		return m.welcome(s, ReasonWelcome)
	case session.AwaitingFile:
		return m.onFile(s, in)
	case session.AwaitingColorChoice:
		return m.onColor(s, in)
	case session.AwaitingCopies:
		return m.onCopies(s, in)
	default:
		return m.Failed(s)
	}
}

func (m *Machine) welcome(s session.Session, reason Reason) Decision {
	return Decision{
		Next: session.Session{
			ConversationID: s.ConversationID,
			Status:         session.AwaitingFile,
		},
		Reply:  m.msgs.Welcome,
		Reason: reason,
	}
}

func (m *Machine) restart(s session.Session) Decision {
	if s.Status == session.AwaitingWelcome {
		return m.welcome(s, ReasonWelcome)
	}

	d := m.welcome(s, ReasonRestart)
	if m.releaseOnRestart && s.HasFile() {
		d.Directive = Directive{Kind: DirectiveRelease, ReleasePath: s.FilePath}
	}
	return d
}

func (m *Machine) reject(s session.Session, reply string, reason Reason) Decision {
	return Decision{Next: s, Reply: reply, Reason: reason}
}

func (m *Machine) onFile(s session.Session, in Input) Decision {
	if in.Kind != KindAttachment || !in.Attachment.Media.Printable() {
		return m.reject(s, m.msgs.InvalidAttachment, ReasonInvalidAttachment)
	}

	return Decision{
		Next: s,
		Directive: Directive{
			Kind:       DirectiveStoreFile,
			Attachment: in.Attachment,
			FileName:   in.Attachment.DisplayName(),
		},
		Reason: ReasonFileRequested,
	}
}

// Stored is the outcome of a successful StoreFile directive
func (m *Machine) Stored(s session.Session, fileName, filePath string) Decision {
	next := s
	next.Status = session.AwaitingColorChoice
	next.FileName = fileName
	next.FilePath = filePath
	next.ColorMode = ""
	next.Copies = 0

	return Decision{
		Next:   next,
		Reply:  m.msgs.menu(fileName),
		Reason: ReasonFileStored,
	}
}

func (m *Machine) onColor(s session.Session, in Input) Decision {
	if in.Kind != KindText {
		return m.reject(s, m.msgs.ExpectedOption, ReasonExpectedText)
	}

	var mode printjob.ColorMode
	switch NormalizeText(in.Text) {
	case "1":
		mode = printjob.Mono
	case "2":
		mode = printjob.Color
	default:
		return m.reject(s, m.msgs.InvalidOption, ReasonInvalidOption)
	}

	next := s
	next.Status = session.AwaitingCopies
	next.ColorMode = mode

	return Decision{
		Next:   next,
		Reply:  m.msgs.copiesPrompt(mode),
		Reason: ReasonColorChosen,
	}
}

func (m *Machine) onCopies(s session.Session, in Input) Decision {
	if in.Kind != KindText {
		return m.reject(s, m.msgs.ExpectedNumber, ReasonExpectedText)
	}

	copies, ok := m.parseCopies(in.Text)
	if !ok {
		return m.reject(s, m.msgs.InvalidNumber, ReasonInvalidNumber)
	}

	next := s
	next.Copies = copies

	return Decision{
		Next:   next,
		Notice: m.msgs.printing(copies, s.FileName, s.ColorMode),
		Directive: Directive{
			Kind: DirectiveSubmit,
			Job: printjob.Job{
				FilePath:     s.FilePath,
				DocumentName: s.FileName,
				Copies:       copies,
				ColorMode:    s.ColorMode,
			},
		},
		Reason: ReasonCopiesChosen,
	}
}

// parseCopies reads the leading base-10 integer of text, so "3 cópias" and
// "2.5" count as 3 and 2. The result must be positive and within the bound.
func (m *Machine) parseCopies(text string) (int, bool) {
	n, ok := leadingInt(NormalizeText(text))
	if !ok || n <= 0 {
		return 0, false
	}
	if m.maxCopies > 0 && n > m.maxCopies {
		return 0, false
	}
	return n, true
}

// Submitted is the outcome of a Submit directive. Any error is reported to
// the user as a print failure; the file is released either way.
func (m *Machine) Submitted(s session.Session, err error) Decision {
	d := m.finish(s, m.msgs.Success, ReasonPrinted)
	if err != nil {
		d.Reply = m.msgs.Failure
		d.Reason = ReasonPrintFailed
	}
	return d
}

// Failed aborts the flow after an unexpected error
func (m *Machine) Failed(s session.Session) Decision {
	return m.finish(s, m.msgs.Generic, ReasonAborted)
}

// Expired ends an idle flow
func (m *Machine) Expired(s session.Session) Decision {
	return m.finish(s, m.msgs.Expired, ReasonExpired)
}

func (m *Machine) finish(s session.Session, reply string, reason Reason) Decision {
	next := s
	next.Status = session.Finished

	d := Decision{Next: next, Reply: reply, Reason: reason}
	if s.HasFile() {
		d.Directive = Directive{Kind: DirectiveRelease, ReleasePath: s.FilePath}
	}
	return d
}

// leadingInt parses an optional sign followed by at least one digit and
// ignores whatever follows the digits.
func leadingInt(text string) (int, bool) {
	end := 0
	if end < len(text) && (text[end] == '+' || text[end] == '-') {
		end++
	}
	digits := end
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}

	n, err := strconv.Atoi(text[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
