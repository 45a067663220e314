// Package conversation drives the per-user dialogue that files found-item
// reports, searches for lost items and lets users close their own ads.
//
// Each user owns a slot whose mutex serializes that user's events. The mutex
// is released while a completion talks to the embedder or the store; during
// that window the slot is marked busy and further events from the same user,
// commands included, get a "still working" reply without touching the
// session. Those events are dropped, not queued: a transport that needs
// them handled must resend after the in-flight reply arrives.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/whereismy/internal/catalog"
	"github.com/kalambet/whereismy/internal/retrieval"
	"github.com/kalambet/whereismy/internal/storage"
)

// DefaultTopK is the number of search results shown when none is configured.
const DefaultTopK = 5

// Store is the subset of the ad store used by the conversation.
type Store interface {
	EnsureUser(ctx context.Context, userID int64) error
	Create(ctx context.Context, ad storage.NewAd) (int64, error)
	GetAd(ctx context.Context, id int64) (storage.Ad, error)
	FindActive(ctx context.Context, category, location string) ([]storage.Ad, error)
	ListOwned(ctx context.Context, ownerID int64, status storage.Status) ([]storage.Ad, error)
	Archive(ctx context.Context, id, requesterID int64) (bool, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Input is one inbound user event. Text carries a message or photo caption,
// PhotoRef an opaque photo handle, and Action the ID of a pressed inline button.
type Input struct {
	UserID   int64  `json:"user_id"`
	Text     string `json:"text,omitempty"`
	PhotoRef string `json:"photo_ref,omitempty"`
	Action   string `json:"action,omitempty"`
}

// Engine is the conversation state machine. Safe for concurrent use.
type Engine struct {
	store    Store
	embedder Embedder
	catalog  *catalog.Catalog
	topK     int
	sessions *sessions
	logger   *slog.Logger
}

// New creates an Engine. topK <= 0 selects DefaultTopK.
func New(store Store, embedder Embedder, cat *catalog.Catalog, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		catalog:  cat,
		topK:     topK,
		sessions: newSessions(),
		logger:   slog.Default().With("component", "conversation"),
	}
}

// Session returns a copy of the user's current session and whether a flow
// is in progress.
func (e *Engine) Session(userID int64) (Session, bool) {
	return e.sessions.peek(userID)
}

// outcome is the result of processing one event: the session to keep, the
// replies to send, and any infrastructure error behind a failure reply.
type outcome struct {
	sess    Session
	replies []Reply
	err     error
}

// task is work that calls the embedder or the store. It runs without the
// slot mutex held.
type task func(ctx context.Context) outcome

// Handle processes one event and returns the replies for the user. A non-nil
// error reports an embedder or store failure; the replies then already
// contain a user-facing explanation and the session is left as it was.
func (e *Engine) Handle(ctx context.Context, in Input) ([]Reply, error) {
	sl := e.sessions.get(in.UserID)

	sl.mu.Lock()
	if sl.busy {
		sl.mu.Unlock()
		return []Reply{{Text: msgBusy}}, nil
	}
	out, run := e.step(in, sl.sess)
	if run == nil {
		sl.sess = out.sess
		sl.mu.Unlock()
		return out.replies, out.err
	}
	sl.busy = true
	sl.mu.Unlock()

	res := outcome{sess: out.sess}
	defer func() {
		sl.mu.Lock()
		sl.sess = res.sess
		sl.busy = false
		sl.mu.Unlock()
	}()
	res = run(ctx)
	return res.replies, res.err
}

// step computes the transition for in. It either finishes immediately or
// returns a task, in which case out.sess is the session to keep should the
// task not complete.
func (e *Engine) step(in Input, sess Session) (outcome, task) {
	if in.Action != "" {
		return e.action(in, sess)
	}

	text := strings.TrimSpace(in.Text)
	switch text {
	case CmdStart:
		return outcome{sess: sess}, e.start(in.UserID)
	case CmdCancel:
		return outcome{replies: []Reply{menuReply(msgCancel)}}, nil
	case CmdBack:
		return outcome{replies: []Reply{menuReply(msgMenu)}}, nil
	case CmdFound, CmdPostAd:
		return e.begin(FlowFound), nil
	case CmdLost:
		return e.begin(FlowLost), nil
	case CmdMyAds:
		return outcome{sess: sess}, e.myAds(in.UserID)
	}

	switch sess.Flow {
	case FlowFound:
		return e.stepFound(in, text, sess)
	case FlowLost:
		return e.stepLost(text, sess)
	}
	return outcome{replies: []Reply{menuReply(msgMenu)}}, nil
}

func (e *Engine) begin(f Flow) outcome {
	return e.advance(Session{Flow: f, Step: StepChooseCategory})
}

func (e *Engine) advance(next Session) outcome {
	return outcome{sess: next, replies: []Reply{e.prompt(next)}}
}

// reject re-issues the current prompt without changing the session.
func (e *Engine) reject(sess Session) outcome {
	return outcome{sess: sess, replies: []Reply{e.prompt(sess)}}
}

func (e *Engine) stepFound(in Input, text string, sess Session) (outcome, task) {
	next := sess
	switch sess.Step {
	case StepChooseCategory:
		name, ok := e.catalog.Category(text)
		if !ok {
			return e.reject(sess), nil
		}
		next.Draft.Category = name
		next.Step = StepEnterDescription

	case StepEnterDescription:
		switch {
		case e.catalog.IsSkip(text):
			next.Draft.Description = ""
		case text == "" && in.PhotoRef == "":
			return e.reject(sess), nil
		case utf8.RuneCountInString(text) > maxDescriptionRunes:
			return outcome{sess: sess, replies: []Reply{{Text: msgDescTooLong, Options: skipOptions(e.catalog)}}}, nil
		default:
			next.Draft.Description = text
		}
		if in.PhotoRef != "" {
			next.Draft.PhotoRef = in.PhotoRef
		}
		next.Step = StepChooseLocation

	case StepChooseLocation:
		loc, ok := e.catalog.Location(text)
		if !ok {
			return e.reject(sess), nil
		}
		next.Draft.Location = loc.Name
		next.Step = StepEnterPlaceDetail

	case StepEnterPlaceDetail:
		if e.catalog.IsSkip(text) {
			text = ""
		}
		next.Draft.PlaceDetail = text
		next.Step = StepChooseContactMode

	case StepChooseContactMode:
		mode, ok := contactModeFromText(text)
		if !ok {
			return e.reject(sess), nil
		}
		return e.chooseContactMode(sess, mode), nil

	case StepEnterContactDetail:
		if text == "" || e.catalog.IsSkip(text) {
			return e.reject(sess), nil
		}
		return outcome{sess: sess}, e.publish(in.UserID, sess.Draft, text)

	default:
		return e.reject(sess), nil
	}
	return e.advance(next), nil
}

func (e *Engine) stepLost(text string, sess Session) (outcome, task) {
	switch sess.Step {
	case StepChooseCategory:
		name, ok := e.catalog.Category(text)
		if !ok {
			return e.reject(sess), nil
		}
		next := sess
		next.Draft.Category = name
		next.Step = StepChooseLocation
		return e.advance(next), nil

	case StepChooseLocation:
		key, ok := e.catalog.LostLocation(text)
		if !ok {
			return e.reject(sess), nil
		}
		return outcome{sess: sess}, e.search(sess, sess.Draft.Category, key)
	}
	return e.reject(sess), nil
}

func (e *Engine) chooseContactMode(sess Session, mode storage.ContactMode) outcome {
	next := sess
	next.Draft.ContactMode = mode
	next.Step = StepEnterContactDetail
	return e.advance(next)
}

func contactModeFromText(text string) (storage.ContactMode, bool) {
	switch {
	case strings.EqualFold(text, LabelDrop), strings.EqualFold(text, string(storage.ContactDrop)):
		return storage.ContactDrop, true
	case strings.EqualFold(text, LabelContact), strings.EqualFold(text, string(storage.ContactDirect)):
		return storage.ContactDirect, true
	}
	return "", false
}

func (e *Engine) action(in Input, sess Session) (outcome, task) {
	switch {
	case strings.HasPrefix(in.Action, actionContactMode):
		mode := storage.ContactMode(strings.TrimPrefix(in.Action, actionContactMode))
		if sess.Flow != FlowFound || sess.Step != StepChooseContactMode || !mode.Valid() {
			return e.reject(sess), nil
		}
		return e.chooseContactMode(sess, mode), nil

	case strings.HasPrefix(in.Action, actionArchive):
		id, err := strconv.ParseInt(strings.TrimPrefix(in.Action, actionArchive), 10, 64)
		if err != nil || id <= 0 {
			return outcome{sess: sess, replies: []Reply{{Text: msgArchiveDenied}}}, nil
		}
		return outcome{sess: sess}, e.archive(in.UserID, id, sess)
	}
	return e.reject(sess), nil
}

// prompt renders the question for the step sess is waiting on.
func (e *Engine) prompt(sess Session) Reply {
	lost := sess.Flow == FlowLost
	switch sess.Step {
	case StepChooseCategory:
		text := msgFoundCategory
		if lost {
			text = msgLostCategory
		}
		return Reply{Text: text, Options: rows(e.catalog.Categories)}
	case StepEnterDescription:
		return Reply{Text: msgDescription, Options: skipOptions(e.catalog)}
	case StepChooseLocation:
		names := e.catalog.LocationNames()
		text := msgFoundLocation
		if lost {
			names = append(names, e.catalog.DontRemember)
			text = msgLostLocation
		}
		return Reply{Text: text, Options: rows(names)}
	case StepEnterPlaceDetail:
		return Reply{Text: msgPlaceDetail, Options: skipOptions(e.catalog)}
	case StepChooseContactMode:
		return Reply{Text: msgContactMode, Actions: contactModeActions()}
	case StepEnterContactDetail:
		if sess.Draft.ContactMode == storage.ContactDrop {
			return Reply{Text: msgDropDetail}
		}
		return Reply{Text: msgContactDetail}
	}
	return menuReply(msgMenu)
}

func (e *Engine) start(userID int64) task {
	return func(ctx context.Context) outcome {
		var err error
		if uerr := e.store.EnsureUser(ctx, userID); uerr != nil {
			err = fmt.Errorf("registering user %d: %w", userID, uerr)
		}
		return outcome{replies: []Reply{menuReply(msgWelcome)}, err: err}
	}
}

// publish embeds and stores a completed found report. On failure the session
// stays at the contact step so the user can resend.
func (e *Engine) publish(userID int64, d Draft, contact string) task {
	kept := Session{Flow: FlowFound, Step: StepEnterContactDetail, Draft: d}
	return func(ctx context.Context) outcome {
		vec, err := e.embedder.Embed(ctx, d.Category+" "+d.Description)
		if err != nil {
			return outcome{sess: kept, replies: []Reply{{Text: msgTemporary}}, err: fmt.Errorf("embedding found ad: %w", err)}
		}
		id, err := e.store.Create(ctx, storage.NewAd{
			OwnerID:     userID,
			Kind:        storage.KindFound,
			Category:    d.Category,
			Description: d.Description,
			PhotoRef:    d.PhotoRef,
			LocationKey: d.Location,
			PlaceDetail: d.PlaceDetail,
			ContactMode: d.ContactMode,
			ContactInfo: contact,
			Embedding:   vec,
		})
		if err != nil {
			return outcome{sess: kept, replies: []Reply{{Text: msgPublishFailed}}, err: fmt.Errorf("creating ad: %w", err)}
		}
		e.logger.Info("ad published", "ad_id", id, "user_id", userID, "category", d.Category, "location", d.Location)
		return outcome{replies: []Reply{menuReply(msgPublished)}}
	}
}

// search ranks active found ads for a lost item. The query embeds the
// category name only. location "" means no location filter.
func (e *Engine) search(sess Session, category, location string) task {
	return func(ctx context.Context) outcome {
		ads, err := e.store.FindActive(ctx, category, location)
		if err != nil {
			return outcome{sess: sess, replies: []Reply{{Text: msgSearchFailed}}, err: fmt.Errorf("finding ads: %w", err)}
		}
		if len(ads) == 0 {
			return outcome{replies: []Reply{{
				Text:    msgNothingFound,
				Options: [][]string{{CmdPostAd}, {CmdBack}},
			}}}
		}

		query, err := e.embedder.Embed(ctx, category)
		if err != nil {
			return outcome{sess: sess, replies: []Reply{{Text: msgTemporary}}, err: fmt.Errorf("embedding query: %w", err)}
		}

		cands := make([]retrieval.Candidate[storage.Ad], len(ads))
		for i, ad := range ads {
			vec, err := ad.Vector()
			if err != nil {
				e.logger.Warn("unreadable embedding, ranking last", "ad_id", ad.ID, "error", err)
			}
			cands[i] = retrieval.Candidate[storage.Ad]{Item: ad, Vector: vec}
		}
		ranked := retrieval.Rank(query, cands)
		if len(ranked) > e.topK {
			ranked = ranked[:e.topK]
		}

		replies := make([]Reply, 0, len(ranked)+1)
		for _, s := range ranked {
			replies = append(replies, Reply{Text: FormatAd(s.Item, e.catalog), PhotoRef: s.Item.PhotoRef})
		}
		replies = append(replies, menuReply(msgResultsTail))
		e.logger.Debug("search complete", "category", category, "location", location, "candidates", len(ads), "shown", len(ranked))
		return outcome{replies: replies}
	}
}

func (e *Engine) myAds(userID int64) task {
	return func(ctx context.Context) outcome {
		ads, err := e.store.ListOwned(ctx, userID, storage.StatusActive)
		if err != nil {
			return outcome{replies: []Reply{menuReply(msgListFailed)}, err: fmt.Errorf("listing ads of %d: %w", userID, err)}
		}
		if len(ads) == 0 {
			return outcome{replies: []Reply{menuReply(msgNoAds)}}
		}
		replies := make([]Reply, len(ads))
		for i, ad := range ads {
			replies[i] = Reply{Text: FormatAd(ad, e.catalog), PhotoRef: ad.PhotoRef, Actions: archiveAction(ad.ID)}
		}
		return outcome{replies: replies}
	}
}

// archive closes an ad on behalf of its owner. The session is untouched.
func (e *Engine) archive(userID, id int64, sess Session) task {
	return func(ctx context.Context) outcome {
		ok, err := e.store.Archive(ctx, id, userID)
		if err != nil {
			return outcome{sess: sess, replies: []Reply{{Text: msgArchiveFailed}}, err: fmt.Errorf("archiving ad %d: %w", id, err)}
		}
		if !ok {
			return outcome{sess: sess, replies: []Reply{{Text: msgArchiveDenied}}}
		}
		e.logger.Info("ad archived", "ad_id", id, "user_id", userID)
		replies := []Reply{{Text: msgArchived}}
		ad, err := e.store.GetAd(ctx, id)
		if err != nil {
			e.logger.Warn("reloading archived ad", "ad_id", id, "error", err)
			return outcome{sess: sess, replies: replies}
		}
		replies = append(replies, Reply{Text: FormatAd(ad, e.catalog), PhotoRef: ad.PhotoRef})
		return outcome{sess: sess, replies: replies}
	}
}
