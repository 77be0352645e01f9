// Package web renders a single-page form that drives one client.Session per browser.
package web

import (
	"bytes"
	"context"
	"html/template"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"tweetattest-backend/client"
	"tweetattest-backend/core"
)

const cookieName = "attest_session"

var pageTemplate *template.Template

func init() {
	var err error
	if pageTemplate, err = template.New("page").Parse(pageHTML); err != nil {
		panic(err)
	}
}

// visitor is the per-cookie state: the session plus the last form values.
type visitor struct {
	mu      sync.Mutex
	session *client.Session
	Handle  string
	Text    string
	TxHash  string
	IDInput string
	Flash   string // errors the session does not record; shown once
}

// Handler serves the form at its mount point.
type Handler struct {
	backend       client.Backend
	chainID       uint64
	defaultWallet common.Address
	visitors      *gocache.Cache
	actionTimeout time.Duration
}

// NewHandler creates a web handler. Sessions idle longer than ttl are dropped.
func NewHandler(backend client.Backend, chainID uint64, defaultWallet common.Address, ttl time.Duration) *Handler {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Handler{
		backend:       backend,
		chainID:       chainID,
		defaultWallet: defaultWallet,
		visitors:      gocache.New(ttl, ttl/2),
		actionTimeout: 30 * time.Second,
	}
}

func (h *Handler) visitor(w http.ResponseWriter, r *http.Request) *visitor {
	if c, err := r.Cookie(cookieName); err == nil {
		if v, ok := h.visitors.Get(c.Value); ok {
			h.visitors.SetDefault(c.Value, v)
			return v.(*visitor)
		}
	}
	id := uuid.NewString()
	v := &visitor{session: client.NewSession(h.backend, h.defaultWallet, h.chainID)}
	h.visitors.SetDefault(id, v)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return v
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.render(w, h.visitor(w, r))
	case http.MethodPost:
		h.act(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type pageData struct {
	Form    *visitor
	Snap    client.Snapshot
	Network uint64
}

func (h *Handler) render(w http.ResponseWriter, v *visitor) {
	v.mu.Lock()
	data := pageData{
		Form:    &visitor{Handle: v.Handle, Text: v.Text, TxHash: v.TxHash, IDInput: v.IDInput, Flash: v.Flash},
		Snap:    v.session.Snapshot(),
		Network: h.chainID,
	}
	v.Flash = ""
	v.mu.Unlock()

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		log.Printf("web: render: %v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// act runs one form action then redirects back to the page.
func (h *Handler) act(w http.ResponseWriter, r *http.Request) {
	v := h.visitor(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	action := r.PostFormValue("action")

	v.mu.Lock()
	v.Handle = r.PostFormValue("handle")
	v.Text = r.PostFormValue("text")
	v.TxHash = strings.TrimSpace(r.PostFormValue("tx_hash"))
	v.IDInput = strings.TrimSpace(r.PostFormValue("assertion_id"))
	session := v.session
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.actionTimeout)
	defer cancel()

	var err, flash error
	switch action {
	case "connect":
		flash = h.connect(v, r.PostFormValue("wallet"))
	case "submit":
		_, err = session.Submit(ctx, v.Handle, v.Text)
	case "find":
		hash, perr := core.ParseHash(v.TxHash)
		if perr != nil {
			flash = perr
			break
		}
		_, err = session.FindByTxHash(ctx, hash)
	case "lookup":
		id, perr := core.ParseHash(v.IDInput)
		if perr != nil {
			flash = perr
			break
		}
		if err = session.UseAssertionID(id); err == nil {
			_, err = session.CheckStatus(ctx)
		}
	case "check":
		_, err = session.CheckStatus(ctx)
	case "settle":
		_, err = session.Settle(ctx)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if flash != nil {
		err = flash
		v.mu.Lock()
		v.Flash = client.UserMessage(flash)
		v.mu.Unlock()
	}
	if err != nil {
		log.Printf("web: %s: %v", action, err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// connect replaces the session with one signing as wallet, keeping the known assertion id.
func (h *Handler) connect(v *visitor, wallet string) error {
	addr, err := core.ParseAddress(wallet)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.session.Snapshot()
	if prev.Busy {
		return client.ErrBusy
	}
	next := client.NewSession(h.backend, addr, h.chainID)
	if prev.AssertionID != nil {
		if err := next.UseAssertionID(*prev.AssertionID); err != nil {
			return err
		}
	}
	v.session = next
	return nil
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Tweet attestation</title>
<style>
body { font-family: sans-serif; max-width: 44rem; margin: 2rem auto; }
fieldset { margin-bottom: 1rem; }
label { display: block; margin-top: .5rem; }
input[type=text], textarea { width: 100%; }
.error { color: #a00; }
.state { font-weight: bold; }
code { word-break: break-all; }
</style>
</head>
<body>
<h1>Tweet attestation</h1>
{{with .Snap}}
<p>Wallet: {{if .Wallet}}<code>{{.Wallet}}</code>{{else}}not connected{{end}}{{if $.Network}} on chain {{$.Network}}{{end}}</p>
<p>State: <span class="state" id="state">{{.State}}</span>{{if .Busy}} (working&hellip;){{end}}</p>
{{if .Err}}<p class="error" id="error" data-category="{{.ErrCategory}}">{{.Err}}</p>{{end}}
{{end}}
{{with .Form.Flash}}<p class="error" id="flash">{{.}}</p>{{end}}

<form method="post" action="/">
<fieldset>
<legend>Wallet</legend>
<label>Address <input type="text" name="wallet" value="{{.Snap.Wallet}}"></label>
<button name="action" value="connect"{{if .Snap.Busy}} disabled{{end}}>Connect</button>
</fieldset>

<fieldset>
<legend>Submit a claim</legend>
<label>Twitter handle <input type="text" name="handle" value="{{.Form.Handle}}"></label>
<label>Tweet text <textarea name="text" rows="3">{{.Form.Text}}</textarea></label>
<button name="action" value="submit"{{if .Snap.Busy}} disabled{{end}}>Submit claim</button>
</fieldset>

<fieldset>
<legend>Find an existing claim</legend>
<label>Transaction hash <input type="text" name="tx_hash" value="{{.Form.TxHash}}"></label>
<button name="action" value="find"{{if .Snap.Busy}} disabled{{end}}>Find by transaction</button>
<label>Assertion id <input type="text" name="assertion_id" value="{{.Form.IDInput}}"></label>
<button name="action" value="lookup"{{if .Snap.Busy}} disabled{{end}}>Look up</button>
</fieldset>

<fieldset>
<legend>Claim</legend>
{{with .Snap}}
{{if .TxHash}}<p>Transaction: <code>{{.TxHash.Hex}}</code></p>{{end}}
{{if .AssertionID}}<p>Assertion id: <code id="assertion-id">{{.AssertionID.Hex}}</code></p>{{else}}<p>No claim selected.</p>{{end}}
{{with .Status}}
<table>
<tr><td>Claimer</td><td><code>{{.Details.Claimer.Hex}}</code></td></tr>
<tr><td>Handle</td><td>@{{.Details.TwitterHandle}}</td></tr>
<tr><td>Tweet</td><td>{{.Details.TweetText}}</td></tr>
<tr><td>Resolved</td><td id="resolved">{{.Details.IsResolved}}</td></tr>
<tr><td>Rewarded</td><td id="rewarded">{{.Details.IsRewarded}}</td></tr>
{{with .Assertion}}<tr><td>Challenge window ends</td><td>{{.ExpirationTime.UTC.Format "2006-01-02 15:04:05 MST"}}</td></tr>
{{if .Disputed}}<tr><td>Disputed by</td><td><code>{{.Disputer.Hex}}</code></td></tr>{{end}}{{end}}
<tr><td>Can be settled</td><td id="settleable">{{.CanBeSettled}}{{if .SettleableGuessed}} (assumed){{end}}</td></tr>
</table>
{{end}}
{{end}}
<button name="action" value="check"{{if or .Snap.Busy (not .Snap.AssertionID)}} disabled{{end}}>Check status</button>
<button name="action" value="settle"{{if or .Snap.Busy (not .Snap.AssertionID)}} disabled{{end}}>Settle</button>
</fieldset>
</form>
</body>
</html>
`
