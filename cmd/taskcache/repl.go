package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/internal/config"
	"github.com/unkn0wn-root/swrcache/model"
	"github.com/unkn0wn-root/swrcache/resource"
)

var (
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

var commands = []string{
	"help", "login", "me", "profile", "tasks", "add", "edit", "state", "rm",
	"refresh", "logout", "delete-account", "stats", "quit", "exit",
}

// REPL is the interactive command loop over the cached resources.
type REPL struct {
	app *app
	cfg config.Config

	liner *liner.State
	// password reads a secret when a command needs one and none was given.
	password func(prompt string) (string, error)

	mu  sync.Mutex // guards out; listeners print from fetch goroutines
	out io.Writer

	profile     *resource.UserProfile
	tasks       *resource.TaskList
	unsubMe     func()
	unsubTasks  func()
	last        []model.Task // rows of the last printed page, for #n references
	lastMeState swrcache.Status
	lastTaskSt  swrcache.Status
}

func newREPL(a *app, cfg config.Config) *REPL {
	return &REPL{
		app:     a,
		cfg:     cfg,
		out:     os.Stdout,
		profile: resource.NewUserProfile(a.store, a.client, a.opts...),
		tasks:   resource.NewTaskList(a.store, a.client, model.PageQuery{Page: 1}, a.opts...),
	}
}

// Run starts the REPL loop.
func (r *REPL) Run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)
	r.password = r.liner.PasswordPrompt

	if f, err := os.Open(r.cfg.HistoryPath); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()
	defer r.unwatch()

	r.printf("taskcache (%s)\n", r.cfg.BaseURL)
	r.printf("Type 'help' for available commands.\n\n")

	if r.cfg.Username != "" {
		r.exec(ctx, "login "+quoteArg(r.cfg.Username))
	} else {
		// A session may already exist (the demo server signs in on start).
		r.watch()
	}

	for ctx.Err() == nil {
		line, err := r.liner.Prompt("taskcache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.printf("\nBye!\n")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)
		if quit := r.exec(ctx, line); quit {
			r.printf("Bye!\n")
			return nil
		}
	}
	return nil
}

func (r *REPL) saveHistory() {
	if r.liner == nil || r.cfg.HistoryPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.cfg.HistoryPath), 0o700); err != nil {
		return
	}
	var b strings.Builder
	if _, err := r.liner.WriteHistory(&b); err != nil {
		return
	}
	_ = atomic.WriteFile(r.cfg.HistoryPath, strings.NewReader(b.String()))
}

func (r *REPL) completer(line string) []string {
	var out []string
	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}
	return out
}

// exec runs one command line and reports whether the shell should exit.
func (r *REPL) exec(ctx context.Context, line string) (quit bool) {
	args, err := splitArgs(line)
	if err != nil {
		r.fail(err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	cctx, cancel := r.app.callCtx(ctx)
	defer cancel()

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "login":
		err = r.cmdLogin(cctx, args)
	case "me":
		err = r.cmdMe(cctx)
	case "profile":
		err = r.cmdProfile(cctx, args)
	case "tasks", "ls":
		err = r.cmdTasks(cctx, args)
	case "add":
		err = r.cmdAdd(cctx, args)
	case "edit":
		err = r.cmdEdit(cctx, args)
	case "state":
		err = r.cmdState(cctx, args)
	case "rm", "del":
		err = r.cmdRemove(cctx, args)
	case "refresh":
		err = r.cmdRefresh(cctx)
	case "logout":
		err = r.cmdLogout(cctx)
	case "delete-account":
		err = r.cmdDeleteAccount(cctx, args)
	case "stats":
		r.cmdStats()
	default:
		r.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		r.fail(err)
	}
	return false
}

func (r *REPL) printHelp() {
	r.printf(`Commands:
  login <user> [password]                    Sign in
  me                                         Show the signed-in profile
  profile set <field> <value> [--password]   Change username, display-name or password
  tasks [page] [--phrase p] [--state a,b]    Show a page of tasks
  add <title> [--desc] [--state] [--priority] [--due]
                                             Create a task
  edit <id|#n> field=value ...               Change a task; field=null clears it
  state <id|#n> <state>                      Move a task to another state
  rm <id|#n>                                 Delete a task
  refresh                                    Refetch the profile and the page
  logout                                     End the session
  delete-account [--password]                Delete the account
  stats                                      Show cache counters
  quit                                       Exit

States: %s
`, strings.Join(stateNames(), ", "))
}

func (r *REPL) cmdLogin(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: login <user> [password]")
	}
	pw := ""
	if len(args) == 2 {
		pw = args[1]
	} else {
		var err error
		if pw, err = r.readPassword("Password: "); err != nil {
			return err
		}
	}
	if err := r.app.login.Login(ctx, args[0], pw); err != nil {
		return err
	}
	me, err := r.profile.Refresh(ctx)
	if err != nil {
		return err
	}
	r.printf("%s\n", okStyle.Render("signed in as "+me.Username))
	r.watch()
	_, err = r.tasks.Refresh(ctx)
	return err
}

func (r *REPL) cmdMe(ctx context.Context) error {
	me, err := r.profile.Refresh(ctx)
	if err != nil {
		return err
	}
	r.printProfile(me)
	return nil
}

func (r *REPL) cmdProfile(ctx context.Context, args []string) error {
	fs := newFlags("profile")
	pw := fs.String("password", "", "current password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 3 || rest[0] != "set" {
		return errors.New("usage: profile set <username|display-name|password> <value> [--password current]")
	}
	var patch model.ProfilePatch
	switch strings.ToLower(rest[1]) {
	case "username":
		patch.Username = model.Set(rest[2])
	case "display-name", "display_name", "name":
		patch.DisplayName = model.Set(rest[2])
	case "password":
		patch.Password = model.Set(rest[2])
	default:
		return fmt.Errorf("unknown profile field %q", rest[1])
	}
	cur, err := r.passwordFlag(*pw)
	if err != nil {
		return err
	}
	if err := r.profile.UpdateProfile(ctx, cur, patch); err != nil {
		return err
	}
	r.printProfile(r.profile.Snapshot().Data)
	return nil
}

func (r *REPL) cmdTasks(ctx context.Context, args []string) error {
	fs := newFlags("tasks")
	phrase := fs.String("phrase", "", "search phrase")
	states := fs.StringSlice("state", nil, "comma separated states")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page := 1
	if rest := fs.Args(); len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid page %q", rest[0])
		}
		page = n
	}

	next := r.tasks
	if fs.Changed("phrase") || fs.Changed("state") {
		q := r.tasks.Query()
		if fs.Changed("phrase") {
			q.Phrase = *phrase
		}
		if fs.Changed("state") {
			parsed, err := parseStates(*states)
			if err != nil {
				return err
			}
			q.States = parsed
		}
		next = next.WithFilter(q.Phrase, q.States)
	}
	if page != next.Query().Page {
		next = next.WithPage(page)
	}
	r.setTasks(next)

	if _, err := r.tasks.Refresh(ctx); err != nil {
		return err
	}
	r.printTasks(r.tasks.Snapshot())
	return nil
}

func (r *REPL) cmdAdd(ctx context.Context, args []string) error {
	fs := newFlags("add")
	desc := fs.String("desc", "", "description")
	state := fs.String("state", string(model.StateTodo), "initial state")
	prio := fs.String("priority", "", "low, medium or high")
	due := fs.String("due", "", "due date, YYYY-MM-DD [HH:MM:SS]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: add <title> [--desc d] [--state s] [--priority p] [--due date]")
	}
	nt := model.NewTask{Title: strings.Join(fs.Args(), " "), Description: *desc}
	var err error
	if nt.State, err = model.ParseState(*state); err != nil {
		return err
	}
	if nt.Priority, err = model.ParsePriority(*prio); err != nil {
		return err
	}
	if *due != "" {
		d, err := model.ParseDate(*due)
		if err != nil {
			return err
		}
		nt.DueDate = &d
	}
	t, err := r.tasks.Add(ctx, nt)
	if err != nil {
		return err
	}
	r.printf("%s %s\n", okStyle.Render("added"), t.ID)
	r.printTasks(r.tasks.Snapshot())
	return nil
}

func (r *REPL) cmdEdit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: edit <id|#n> field=value ...")
	}
	id, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	patch, err := parseEdit(args[1:])
	if err != nil {
		return err
	}
	t, err := r.tasks.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	r.printf("%s %s\n", okStyle.Render("updated"), t.Title)
	return nil
}

func (r *REPL) cmdState(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: state <id|#n> <state>")
	}
	id, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	st, err := model.ParseState(args[1])
	if err != nil {
		return err
	}
	t, err := r.tasks.ChangeState(ctx, id, st)
	if err != nil {
		return err
	}
	r.printf("%s %s -> %s\n", okStyle.Render("moved"), t.Title, t.State)
	return nil
}

func (r *REPL) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm <id|#n>")
	}
	id, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	if err := r.tasks.Delete(ctx, id); err != nil {
		return err
	}
	r.printf("%s %s\n", okStyle.Render("deleted"), id)
	return nil
}

func (r *REPL) cmdRefresh(ctx context.Context) error {
	if _, err := r.profile.Refresh(ctx); err != nil {
		return err
	}
	if _, err := r.tasks.Refresh(ctx); err != nil {
		return err
	}
	r.printTasks(r.tasks.Snapshot())
	return nil
}

func (r *REPL) cmdLogout(ctx context.Context) error {
	if err := r.profile.Logout(ctx); err != nil {
		return err
	}
	r.forgetTasks()
	r.printf("%s\n", okStyle.Render("logged out"))
	return nil
}

func (r *REPL) cmdDeleteAccount(ctx context.Context, args []string) error {
	fs := newFlags("delete-account")
	pw := fs.String("password", "", "current password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cur, err := r.passwordFlag(*pw)
	if err != nil {
		return err
	}
	if err := r.profile.DeleteProfile(ctx, cur); err != nil {
		return err
	}
	r.forgetTasks()
	r.printf("%s\n", okStyle.Render("account deleted"))
	return nil
}

func (r *REPL) cmdStats() {
	st := r.app.store.Stats()
	r.printf("entries=%d subscribers=%d fetching=%d pending=%d\n",
		st.Entries, st.Subscribers, st.Fetching, st.Pending)
}

// watch subscribes to the profile and the current page so background
// revalidations and errors show up between commands.
func (r *REPL) watch() {
	if r.unsubMe == nil {
		r.unsubMe = r.profile.Subscribe(r.onProfile)
	}
	if r.unsubTasks == nil {
		r.unsubTasks = r.tasks.Subscribe(r.onTasks)
	}
}

func (r *REPL) unwatch() {
	if r.unsubMe != nil {
		r.unsubMe()
		r.unsubMe = nil
	}
	if r.unsubTasks != nil {
		r.unsubTasks()
		r.unsubTasks = nil
	}
}

func (r *REPL) setTasks(next *resource.TaskList) {
	if next.Key() == r.tasks.Key() {
		return
	}
	// Subscribe to the new page before letting go of the old one.
	var unsub func()
	if r.unsubTasks != nil {
		unsub = next.Subscribe(r.onTasks)
		r.unsubTasks()
	}
	r.tasks, r.unsubTasks, r.last = next, unsub, nil
}

// forgetTasks drops the signed-out user's page.
func (r *REPL) forgetTasks() {
	r.app.store.Clear(r.tasks.Key(), nil)
	r.last = nil
}

func (r *REPL) onProfile(s resource.ProfileSnapshot) {
	r.mu.Lock()
	prev := r.lastMeState
	r.lastMeState = s.Status
	r.mu.Unlock()
	switch {
	case s.IsUnauthorized && prev != swrcache.StatusErrored:
		r.printf("%s\n", dimStyle.Render("* not signed in"))
	case s.Status == swrcache.StatusErrored && prev != swrcache.StatusErrored:
		r.printf("%s\n", errStyle.Render("* profile: "+s.Err.Error()))
	}
}

func (r *REPL) onTasks(s resource.TaskListSnapshot) {
	r.mu.Lock()
	prev := r.lastTaskSt
	r.lastTaskSt = s.Status
	r.mu.Unlock()
	switch {
	case s.Status == swrcache.StatusErrored && prev != swrcache.StatusErrored:
		if api.KindOf(s.Err) == api.KindUnauthorized {
			return
		}
		r.printf("%s\n", errStyle.Render("* tasks: "+s.Err.Error()))
	case s.Status == swrcache.StatusReady && prev == swrcache.StatusLoading:
		r.printf("%s\n", dimStyle.Render(fmt.Sprintf("* tasks refreshed: %d of %d", len(s.Items), s.Total)))
	}
}

func (r *REPL) printProfile(p model.UserProfile) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headStyle.Render(p.Username))
	if p.DisplayName != "" {
		fmt.Fprintf(&b, "  name:    %s\n", p.DisplayName)
	}
	fmt.Fprintf(&b, "  id:      %s\n", p.ID)
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "  joined:  %s\n", humanize.Time(p.CreatedAt))
	}
	r.printf("%s", b.String())
}

func (r *REPL) printTasks(s resource.TaskListSnapshot) {
	r.last = s.Items
	q := r.tasks.Query()
	var b strings.Builder
	head := fmt.Sprintf("page %d/%d, %d tasks", q.Page, max(s.TotalPages, 1), s.Total)
	if q.Phrase != "" {
		head += fmt.Sprintf(", phrase %q", q.Phrase)
	}
	if q.States != nil {
		head += ", states [" + joinStates(q.States) + "]"
	}
	fmt.Fprintf(&b, "%s\n", headStyle.Render(head))
	if s.IsEmpty {
		fmt.Fprintf(&b, "  %s\n", dimStyle.Render("no tasks"))
		r.printf("%s", b.String())
		return
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for i, t := range s.Items {
		due := ""
		if t.DueDate != nil {
			due = "due " + humanize.Time(*t.DueDate)
		}
		fmt.Fprintf(tw, "  #%d\t%s\t%s\t%s\t%s\t%s\n", i+1, t.State, t.Priority, t.Title, due, dimStyle.Render(t.ID))
	}
	tw.Flush()
	r.printf("%s", b.String())
}

// resolve turns "#n" into the id of row n of the last printed page.
func (r *REPL) resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, "#") {
		return ref, nil
	}
	n, err := strconv.Atoi(ref[1:])
	if err != nil || n < 1 || n > len(r.last) {
		return "", fmt.Errorf("no row %s on the last page", ref)
	}
	return r.last[n-1].ID, nil
}

func (r *REPL) passwordFlag(v string) (string, error) {
	if v != "" {
		return v, nil
	}
	return r.readPassword("Current password: ")
}

func (r *REPL) readPassword(prompt string) (string, error) {
	if r.password == nil {
		return "", errors.New("password required")
	}
	return r.password(prompt)
}

func (r *REPL) fail(err error) {
	msg := err.Error()
	var me *swrcache.MutationError
	if errors.As(err, &me) && me.RolledBack {
		msg += " (change rolled back)"
	}
	r.printf("%s\n", errStyle.Render("error: "+msg))
}

func (r *REPL) printf(format string, a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, a...)
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseEdit reads field=value pairs into a patch. "null" clears optional fields.
func parseEdit(pairs []string) (model.TaskPatch, error) {
	var p model.TaskPatch
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return p, fmt.Errorf("expected field=value, got %q", kv)
		}
		null := v == "null"
		switch strings.ToLower(k) {
		case "title":
			if null {
				return p, errors.New("title cannot be cleared")
			}
			p.Title = model.Set(v)
		case "description", "desc":
			if null {
				p.Description = model.Clear[string]()
			} else {
				p.Description = model.Set(v)
			}
		case "state":
			if null {
				return p, errors.New("state cannot be cleared")
			}
			st, err := model.ParseState(v)
			if err != nil {
				return p, err
			}
			p.State = model.Set(st)
		case "priority":
			if null {
				p.Priority = model.Clear[model.Priority]()
				continue
			}
			pr, err := model.ParsePriority(v)
			if err != nil {
				return p, err
			}
			p.Priority = model.Set(pr)
		case "due":
			if null {
				p.DueDate = model.Clear[time.Time]()
				continue
			}
			d, err := model.ParseDate(v)
			if err != nil {
				return p, err
			}
			p.DueDate = model.Set(d)
		default:
			return p, fmt.Errorf("unknown field %q", k)
		}
	}
	return p, nil
}

// splitArgs splits a command line on whitespace. Single or double quotes group
// words; a backslash escapes the next character.
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
		esc   bool
	)
	for _, c := range line {
		switch {
		case esc:
			cur.WriteRune(c)
			esc = false
		case c == '\\':
			esc, inArg = true, true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '"' || c == '\'':
			quote, inArg = c, true
		case c == ' ' || c == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(c)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if esc {
		return nil, errors.New("trailing backslash")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

func quoteArg(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func parseStates(in []string) ([]model.State, error) {
	out := make([]model.State, 0, len(in))
	for _, s := range in {
		st, err := model.ParseState(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func joinStates(ss []model.State) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func stateNames() []string {
	out := make([]string, len(model.States))
	for i, s := range model.States {
		out[i] = string(s)
	}
	return out
}
