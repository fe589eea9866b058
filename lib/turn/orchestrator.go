// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/camille/lib/clock"
	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/generator"
	"github.com/bureau-foundation/camille/lib/history"
	"github.com/bureau-foundation/camille/lib/llm"
	llmcontext "github.com/bureau-foundation/camille/lib/llm/context"
	"github.com/bureau-foundation/camille/lib/metrics"
	"github.com/bureau-foundation/camille/lib/webfetch"
	"github.com/bureau-foundation/camille/mattermost"
)

// DefaultWindowSize is the history window used when none is
// configured.
const DefaultWindowSize = 1024

// Entities is the part of the entity cache the orchestrator uses.
// *entitycache.Cache implements it.
type Entities interface {
	Self() string
	GetUser(ctx context.Context, userID string) (entitycache.User, error)
	GetChannel(ctx context.Context, channelID string) (entitycache.Channel, error)
	Members(channelID string) []entitycache.User
	SetUserNotes(userID, notes string) error
	SetChannelNotes(channelID, notes string) error
	SetModelPreference(userID, profile string) error
	SavePrompt(userID, name, text string) error
	DeletePrompt(userID, name string) error
	UsePrompt(userID, name string) error
}

// Poster creates posts. *mattermost.Client implements it.
type Poster interface {
	CreatePost(ctx context.Context, channelID, rootID, message string) (*mattermost.Post, error)
}

// Typist sends typing indicators. *mattermost.Stream implements it.
type Typist interface {
	SendTyping(channelID, parentID string, seq int64) error
}

// Sequencer numbers outbound websocket actions.
// *mattermost.SequenceTracker implements it.
type Sequencer interface {
	NextOutbound() int64
}

// Profile is a named model configuration users can choose between.
type Profile struct {
	Name        string
	Description string

	// Personality is the standing instruction that opens every new
	// conversation answered with this profile. "{name}" is replaced
	// by the bot's display name.
	Personality string

	Generator *generator.Generator
}

// Config configures an Orchestrator.
type Config struct {
	Entities  Entities
	Poster    Poster
	Typist    Typist
	Sequencer Sequencer
	Store     history.Store

	// Profiles maps profile name to profile. DefaultProfile must name
	// one of them.
	Profiles       map[string]*Profile
	DefaultProfile string

	// WindowSize bounds the history sent to the model. Defaults to
	// DefaultWindowSize.
	WindowSize int

	// IgnoreChannels lists channel names the bot never answers in.
	IgnoreChannels []string

	// Fetcher backs the fetch_url tool. Nil leaves the tool out.
	Fetcher *webfetch.Fetcher

	// OnLocalChange is called after a tool changes notes or a model
	// preference, so the caller can persist the cache.
	OnLocalChange func()

	Clock   clock.Clock
	Metrics *metrics.Server
	Logger  *slog.Logger
}

// Orchestrator runs turns for one session. HandlePost is called from
// the session's event loop and is not safe for concurrent use.
type Orchestrator struct {
	entities       Entities
	poster         Poster
	typist         Typist
	sequencer      Sequencer
	store          history.Store
	profiles       map[string]*Profile
	defaultProfile string
	windowSize     int
	ignoreChannels []string
	fetcher        *webfetch.Fetcher
	onLocalChange  func()
	clock          clock.Clock
	metrics        *metrics.Server
	logger         *slog.Logger
}

// New validates config and returns an Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Entities == nil || config.Poster == nil || config.Typist == nil ||
		config.Sequencer == nil || config.Store == nil {
		return nil, fmt.Errorf("turn: entities, poster, typist, sequencer and store are required")
	}
	if _, ok := config.Profiles[config.DefaultProfile]; !ok {
		return nil, fmt.Errorf("turn: default profile %q is not configured", config.DefaultProfile)
	}
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultWindowSize
	}
	if config.OnLocalChange == nil {
		config.OnLocalChange = func() {}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Orchestrator{
		entities:       config.Entities,
		poster:         config.Poster,
		typist:         config.Typist,
		sequencer:      config.Sequencer,
		store:          config.Store,
		profiles:       config.Profiles,
		defaultProfile: config.DefaultProfile,
		windowSize:     config.WindowSize,
		ignoreChannels: config.IgnoreChannels,
		fetcher:        config.Fetcher,
		onLocalChange:  config.OnLocalChange,
		clock:          config.Clock,
		metrics:        config.Metrics,
		logger:         config.Logger,
	}, nil
}

// HandlePost answers post. The caller has already filtered out the
// bot's own posts and system posts. Turn failures are reported into
// the thread and logged; HandlePost returns an error only when the
// error report itself could not be posted.
func (o *Orchestrator) HandlePost(ctx context.Context, post *mattermost.Post) error {
	if strings.HasPrefix(strings.TrimSpace(post.Message), ".") {
		o.logger.Debug("ignoring dotted post", "post_id", post.ID)
		return nil
	}

	thread := history.ResolveThread(post)
	logger := o.logger.With(
		"turn_id", uuid.NewString(),
		"post_id", post.ID,
		"thread_id", thread.ID,
		"channel_id", post.ChannelID,
	)
	started := o.clock.Now()

	err := o.runTurn(ctx, logger, post, thread)
	elapsed := o.clock.Now().Sub(started)
	switch {
	case err == nil:
		o.metrics.Turn(metrics.OutcomeSuccess, elapsed)
		return nil
	case errors.Is(err, errIgnored):
		return nil
	case errors.Is(err, history.ErrDuplicateInteraction):
		o.metrics.Turn(metrics.OutcomeDuplicate, elapsed)
		logger.Info("post already answered", "error", err)
		return nil
	}

	o.metrics.Turn(metrics.OutcomeError, elapsed)
	logger.Error("turn failed", "error", err, "elapsed", elapsed)
	if _, postErr := o.poster.CreatePost(ctx, post.ChannelID, thread.ID, "Error: "+err.Error()); postErr != nil {
		o.metrics.Post(true)
		return fmt.Errorf("turn: reporting failure of post %s: %w", post.ID, postErr)
	}
	o.metrics.Post(false)
	return nil
}

// errIgnored ends a turn without a reply or an error report.
var errIgnored = errors.New("turn: post ignored")

func (o *Orchestrator) runTurn(ctx context.Context, logger *slog.Logger, post *mattermost.Post, thread history.Thread) error {
	channel, err := o.entities.GetChannel(ctx, post.ChannelID)
	if err != nil {
		return fmt.Errorf("resolving channel: %w", err)
	}
	if slices.Contains(o.ignoreChannels, channel.Name) {
		logger.Debug("ignoring post in ignored channel", "channel", channel.Name)
		return errIgnored
	}

	snapshot, err := o.store.Load(ctx, thread, post.ID, o.windowSize)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	sender, err := o.entities.GetUser(ctx, post.UserID)
	if err != nil {
		return fmt.Errorf("resolving sender: %w", err)
	}
	members := o.entities.Members(channel.ID)
	profile := o.profileFor(sender)

	if err := o.typist.SendTyping(channel.ID, thread.ID, o.sequencer.NextOutbound()); err != nil {
		return fmt.Errorf("sending typing indicator: %w", err)
	}

	system, err := dynamicContext(o.clock.Now(), channel, members, sender)
	if err != nil {
		return err
	}
	input := o.inputMessage(ctx, snapshot.History, profile, sender, post)

	turn, err := profile.Generator.GenerateTurn(ctx, generator.TurnRequest{
		History: snapshot.History,
		Input:   input,
		Tools:   o.tools(sender, channel),
		System:  system,
	})
	if err != nil {
		return err
	}

	logger.Info("turn started",
		"profile", profile.Name,
		"sender", sender.Username,
		"history_messages", len(snapshot.History),
	)
	toolNames := make(map[string]string)
	for {
		output, err := turn.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch output.Kind {
		case generator.OutputText:
			if strings.TrimSpace(output.Text) == "" {
				continue
			}
			if _, err := o.poster.CreatePost(ctx, channel.ID, thread.ID, output.Text); err != nil {
				o.metrics.Post(true)
				return fmt.Errorf("posting reply: %w", err)
			}
			o.metrics.Post(false)
		case generator.OutputToolCall:
			toolNames[output.ToolCall.ID] = output.ToolCall.Name
			logger.Info("tool called", "tool", output.ToolCall.Name, "tool_use_id", output.ToolCall.ID)
		case generator.OutputToolResult:
			o.metrics.ToolCall(toolNames[output.ToolResult.ToolUseID], output.ToolResult.IsError)
		}
	}

	usage := turn.Usage()
	o.metrics.Tokens(profile.Generator.Model(), usage.InputTokens, usage.OutputTokens)

	if err := o.store.Commit(ctx, snapshot, post.ID, turn.Delta()); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	logger.Info("turn committed",
		"messages", len(turn.Delta()),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// profileFor returns the sender's preferred profile, or the default
// when the preference is unset or names no configured profile.
func (o *Orchestrator) profileFor(sender entitycache.User) *Profile {
	if profile, ok := o.profiles[sender.ModelPreference]; ok {
		return profile
	}
	return o.profiles[o.defaultProfile]
}

// inputMessage builds the user message of a turn. A conversation
// without standing instructions is new and gets a personality as one:
// the sender's active prompt, else the profile's.
func (o *Orchestrator) inputMessage(ctx context.Context, windowed []llm.Message, profile *Profile, sender entitycache.User, post *mattermost.Post) llm.Message {
	input := llm.Message{Role: llm.RoleUser}
	if len(llmcontext.Instructions(windowed)) == 0 {
		if personality := o.personality(ctx, profile, sender); personality != "" {
			input.Content = append(input.Content, llm.InstructionBlock(personality))
		}
	}
	input.Content = append(input.Content, llm.TextBlock(sender.Username+": "+post.Message))
	return input
}

func (o *Orchestrator) personality(ctx context.Context, profile *Profile, sender entitycache.User) string {
	text := profile.Personality
	if prompt, ok := sender.ActivePromptText(); ok {
		text = prompt
	}
	if text == "" {
		return ""
	}
	name := "Camille"
	if self, err := o.entities.GetUser(ctx, o.entities.Self()); err == nil {
		name = displayName(self)
	}
	return strings.ReplaceAll(text, "{name}", name)
}

func displayName(user entitycache.User) string {
	switch {
	case user.FirstName != "":
		return user.FirstName
	case user.Nickname != "":
		return user.Nickname
	default:
		return user.Username
	}
}
