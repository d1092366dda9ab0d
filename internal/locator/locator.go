package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"autopilot-mcp-server/internal/config"
	"autopilot-mcp-server/internal/observer"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/google/uuid"
)

// Candidate is an actionable control discovered in the host UI, flattened to
// the properties the classifier and dedup guard need. BlockText carries the
// text of the enclosing container for target and diff-stat extraction.
type Candidate struct {
	Ref       string  `json:"ref"`
	Tag       string  `json:"tag"`
	Classes   string  `json:"classes"`
	Text      string  `json:"text"`
	AriaLabel string  `json:"aria_label"`
	Title     string  `json:"title"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Disabled  bool    `json:"disabled"`
	BlockText string  `json:"block_text"`
}

// Locator attaches to the host UI's Chromium instance over CDP and exposes
// the pieces the engine needs: a mutation stream, candidate discovery, and
// click delivery.
type Locator struct {
	cfg        config.BrowserConfig
	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	sessionID  string
	cancelPump context.CancelFunc
}

func New(cfg config.BrowserConfig) *Locator {
	return &Locator{cfg: cfg}
}

// SessionID returns the identifier assigned on attach.
func (l *Locator) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// Connect attaches to an existing host instance or launches one using Rod's
// launcher, then binds to the first page.
func (l *Locator) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		if _, err := l.browser.Version(); err == nil {
			return nil
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		_ = l.browser.Close()
		l.browser = nil
		l.page = nil
		l.controlURL = ""
	}

	controlURL := l.cfg.DebuggerURL
	if controlURL == "" && len(l.cfg.Launch) > 0 {
		bin := l.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(l.cfg.IsHeadless())
		for _, rawFlag := range l.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(l.cfg.IsHeadless())
			if alt, altErr := fallback.Launch(); altErr == nil {
				url = alt
			} else {
				return fmt.Errorf("launch host: %w (fallback: %v)", err, altErr)
			}
		}
		controlURL = url
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to host: %w", err)
	}

	pages, err := browser.Pages()
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		_ = browser.Close()
		return errors.New("host has no pages to attach to")
	}

	l.browser = browser
	l.page = pages.First()
	l.controlURL = controlURL
	l.sessionID = uuid.NewString()
	log.Printf("Attached to host UI at %s (session %s)", controlURL, l.sessionID)
	return nil
}

// Connected reports whether an attached page is available.
func (l *Locator) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.page != nil
}

// Shutdown stops the mutation pump and closes the browser connection. The
// host process itself is left running.
func (l *Locator) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancelPump != nil {
		l.cancelPump()
		l.cancelPump = nil
	}
	var err error
	if l.browser != nil {
		err = l.browser.Close()
		l.browser = nil
		l.page = nil
	}
	l.controlURL = ""
	return err
}

// StartMutationStream installs a MutationObserver in the page that buffers
// relevant mutations on a window global, then drains that buffer on a ticker
// and feeds batches to sink. Installation is idempotent across reattaches.
func (l *Locator) StartMutationStream(ctx context.Context, sink func([]observer.Record)) error {
	l.mu.RLock()
	page := l.page
	l.mu.RUnlock()
	if page == nil {
		return errors.New("not attached")
	}

	_, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const w = window;
			if (w.__autopilotHooked) return true;
			w.__autopilotHooked = true;
			w.__autopilotMutations = [];

			const obs = new MutationObserver((mutations) => {
				mutations.forEach((m) => {
					try {
						if (m.type === 'childList') {
							const texts = [];
							const classes = [];
							m.addedNodes.forEach((n) => {
								if (n.nodeType !== 1) return;
								const t = (n.textContent || '').trim();
								if (t) texts.push(t.substring(0, 200));
								if (typeof n.className === 'string' && n.className) classes.push(n.className);
							});
							if (texts.length || classes.length) {
								w.__autopilotMutations.push({ kind: 'childList', texts, classes });
							}
						} else if (m.type === 'attributes') {
							const el = m.target;
							const cls = (el && typeof el.className === 'string') ? el.className : '';
							const txt = (el && el.textContent) ? el.textContent.trim().substring(0, 200) : '';
							w.__autopilotMutations.push({
								kind: 'attributes',
								attr: m.attributeName || '',
								targetClasses: cls,
								targetText: txt
							});
						}
					} catch (e) {}
				});
				// Bound the buffer so a mutation storm cannot grow it unchecked.
				if (w.__autopilotMutations.length > 2000) {
					w.__autopilotMutations = w.__autopilotMutations.slice(-1000);
				}
			});
			obs.observe(document.body || document.documentElement, {
				childList: true,
				subtree: true,
				attributes: true,
				attributeFilter: ['class', 'disabled']
			});
			return true;
		}
		`,
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("install mutation hook: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	if l.cancelPump != nil {
		l.cancelPump()
	}
	l.cancelPump = cancel
	l.mu.Unlock()

	go l.pumpMutations(pumpCtx, page, sink)
	return nil
}

func (l *Locator) pumpMutations(ctx context.Context, page *rod.Page, sink func([]observer.Record)) {
	ticker := time.NewTicker(l.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
				JS: `
				() => {
					const buf = Array.isArray(window.__autopilotMutations) ? window.__autopilotMutations : [];
					window.__autopilotMutations = [];
					return buf;
				}
				`,
				ByValue:      true,
				AwaitPromise: true,
			})
			if err != nil || res == nil || res.Value.Nil() {
				continue
			}
			raw, err := res.Value.MarshalJSON()
			if err != nil {
				continue
			}
			var entries []struct {
				Kind          string   `json:"kind"`
				Texts         []string `json:"texts"`
				Classes       []string `json:"classes"`
				Attr          string   `json:"attr"`
				TargetClasses string   `json:"targetClasses"`
				TargetText    string   `json:"targetText"`
			}
			if err := json.Unmarshal(raw, &entries); err != nil {
				continue
			}
			if len(entries) == 0 {
				continue
			}

			records := make([]observer.Record, 0, len(entries))
			for _, e := range entries {
				records = append(records, observer.Record{
					Kind:          observer.Kind(e.Kind),
					AddedText:     e.Texts,
					AddedClasses:  e.Classes,
					AttributeName: e.Attr,
					TargetClasses: e.TargetClasses,
					TargetText:    e.TargetText,
				})
			}
			sink(records)
		}
	}
}

// FindCandidates extracts visible, enabled actionable controls from the page.
// Each candidate is registered under its ref on a window global so a later
// Click can reach the exact node without re-querying.
func (l *Locator) FindCandidates(ctx context.Context) ([]Candidate, error) {
	l.mu.RLock()
	page := l.page
	l.mu.RUnlock()
	if page == nil {
		return nil, errors.New("not attached")
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const w = window;
			w.__autopilotRefs = {};

			const selector = 'button, [role="button"], [class*="button"], [class*="anysphere"], div[onclick]';
			const out = [];
			const seen = new Set();

			document.querySelectorAll(selector).forEach((el, idx) => {
				if (out.length >= 100) return;

				const rect = el.getBoundingClientRect();
				const style = getComputedStyle(el);
				if (rect.width === 0 || rect.height === 0 ||
				    style.display === 'none' || style.visibility === 'hidden' ||
				    style.opacity === '0') {
					return;
				}

				const tag = el.tagName.toLowerCase();
				const classes = (typeof el.className === 'string') ? el.className : '';
				const text = (el.innerText || '').trim().substring(0, 100);
				const ariaLabel = el.getAttribute('aria-label') || '';
				const title = el.getAttribute('title') || '';
				if (!text && !ariaLabel && !title) return;

				let ref = el.id || (classes ? tag + '.' + classes.split(/\s+/).slice(0, 2).join('.') : tag);
				if (seen.has(ref)) ref = ref + '_' + idx;
				seen.add(ref);
				w.__autopilotRefs[ref] = el;

				const block = el.closest('[class*="composer"], [class*="diff"], [class*="code-block"], [class*="message"]');
				const blockText = block ? (block.innerText || '').trim().substring(0, 300) : '';

				out.push({
					ref,
					tag,
					classes,
					text,
					aria_label: ariaLabel,
					title,
					x: rect.x,
					y: rect.y,
					width: rect.width,
					height: rect.height,
					disabled: !!el.disabled,
					block_text: blockText
				});
			});
			return out;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return candidates, nil
}

// Click dispatches a click to the node registered under ref by the last
// FindCandidates pass. Returns an error when the ref is stale.
func (l *Locator) Click(ctx context.Context, ref string) error {
	l.mu.RLock()
	page := l.page
	l.mu.RUnlock()
	if page == nil {
		return errors.New("not attached")
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(ref) => {
			const refs = window.__autopilotRefs || {};
			const el = refs[ref];
			if (!el || !el.isConnected) return false;
			el.click();
			return true;
		}
		`,
		JSArgs:  []interface{}{ref},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("click %s: %w", ref, err)
	}
	if res == nil || !res.Value.Bool() {
		return fmt.Errorf("click %s: element no longer attached", ref)
	}
	return nil
}
