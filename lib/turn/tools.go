// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/camille/lib/entitycache"
	"github.com/bureau-foundation/camille/lib/generator"
	"github.com/bureau-foundation/camille/lib/llm"
)

// Tool names.
const (
	ToolUpdateUserNotes    = "update_user_notes"
	ToolUpdateChannelNotes = "update_channel_notes"
	ToolSetModelPreference = "set_model_preference"
	ToolListModelProfiles  = "list_model_profiles"
	ToolCreatePrompt       = "create_prompt"
	ToolListPrompts        = "list_prompts"
	ToolDeletePrompt       = "delete_prompt"
	ToolUsePrompt          = "use_prompt"
	ToolFetchURL           = "fetch_url"
)

// tools returns the tools of a turn, bound to its sender and channel.
func (o *Orchestrator) tools(sender entitycache.User, channel entitycache.Channel) *generator.Toolset {
	set := generator.NewToolset(
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name: ToolUpdateUserNotes,
				Description: "Replace your notes about a user of this channel. Notes persist across " +
					"conversations; include everything worth remembering, not only the new fact. " +
					"Defaults to the sender of the current message.",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"notes": {"type": "string", "description": "The complete new notes."},
						"username": {"type": "string", "description": "Whose notes to replace. Defaults to the sender."}
					},
					"required": ["notes"]
				}`),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					Notes    string `json:"notes"`
					Username string `json:"username"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				target := sender
				if arguments.Username != "" && arguments.Username != sender.Username {
					var ok bool
					target, ok = o.memberByUsername(channel.ID, arguments.Username)
					if !ok {
						return "", fmt.Errorf("no member of this channel is called %q", arguments.Username)
					}
				}
				if err := o.entities.SetUserNotes(target.ID, arguments.Notes); err != nil {
					return "", err
				}
				o.onLocalChange()
				return fmt.Sprintf("Notes about %s updated.", target.Username), nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name:        ToolUpdateChannelNotes,
				Description: "Replace your notes about the current channel. Notes persist across conversations.",
				InputSchema: generator.ObjectSchema(map[string]string{"notes": "The complete new notes."}, "notes"),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					Notes string `json:"notes"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				if err := o.entities.SetChannelNotes(channel.ID, arguments.Notes); err != nil {
					return "", err
				}
				o.onLocalChange()
				return "Channel notes updated.", nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name: ToolSetModelPreference,
				Description: "Choose the model profile used to answer the sender from now on. " +
					"Call list_model_profiles for the available names. An empty profile restores the default.",
				InputSchema: generator.ObjectSchema(map[string]string{"profile": "A profile name."}, "profile"),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					Profile string `json:"profile"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				if _, ok := o.profiles[arguments.Profile]; arguments.Profile != "" && !ok {
					return "", fmt.Errorf("unknown profile %q; available: %s", arguments.Profile, strings.Join(o.profileNames(), ", "))
				}
				if err := o.entities.SetModelPreference(sender.ID, arguments.Profile); err != nil {
					return "", err
				}
				o.onLocalChange()
				if arguments.Profile == "" {
					return fmt.Sprintf("%s will be answered with the default profile %q.", sender.Username, o.defaultProfile), nil
				}
				return fmt.Sprintf("%s will be answered with profile %q from the next message on.", sender.Username, arguments.Profile), nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name:        ToolListModelProfiles,
				Description: "List the model profiles the sender can choose with set_model_preference.",
				InputSchema: generator.ObjectSchema(nil),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				type profileInfo struct {
					Name        string `json:"name"`
					Description string `json:"description,omitempty"`
					Model       string `json:"model"`
					Default     bool   `json:"default,omitempty"`
					Current     bool   `json:"current,omitempty"`
				}
				current := o.profileFor(sender).Name
				var listing []profileInfo
				for _, name := range o.profileNames() {
					profile := o.profiles[name]
					listing = append(listing, profileInfo{
						Name:        name,
						Description: profile.Description,
						Model:       profile.Generator.Model(),
						Default:     name == o.defaultProfile,
						Current:     name == current,
					})
				}
				encoded, err := json.Marshal(listing)
				if err != nil {
					return "", err
				}
				return string(encoded), nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name: ToolCreatePrompt,
				Description: "Save a personality prompt for the sender under a name, replacing any prompt " +
					"of that name. {name} in the text stands for your display name. Activate it with use_prompt.",
				InputSchema: generator.ObjectSchema(map[string]string{
					"name": "A short name for the prompt.",
					"text": "The personality prompt.",
				}, "name", "text"),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					Name string `json:"name"`
					Text string `json:"text"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				name := strings.TrimSpace(arguments.Name)
				if name == "" || strings.TrimSpace(arguments.Text) == "" {
					return "", fmt.Errorf("a prompt needs a name and a text")
				}
				if err := o.entities.SavePrompt(sender.ID, name, arguments.Text); err != nil {
					return "", err
				}
				o.onLocalChange()
				return fmt.Sprintf("Prompt %q saved for %s.", name, sender.Username), nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name:        ToolListPrompts,
				Description: "List the sender's saved personality prompts and which one is active.",
				InputSchema: generator.ObjectSchema(nil),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				current, err := o.entities.GetUser(ctx, sender.ID)
				if err != nil {
					return "", err
				}
				type promptInfo struct {
					Name   string `json:"name"`
					Text   string `json:"text"`
					Active bool   `json:"active,omitempty"`
				}
				listing := []promptInfo{}
				for _, name := range slices.Sorted(maps.Keys(current.Prompts)) {
					listing = append(listing, promptInfo{
						Name:   name,
						Text:   current.Prompts[name],
						Active: name == current.ActivePrompt,
					})
				}
				encoded, err := json.Marshal(listing)
				if err != nil {
					return "", err
				}
				return string(encoded), nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name:        ToolDeletePrompt,
				Description: "Delete one of the sender's saved personality prompts.",
				InputSchema: generator.ObjectSchema(map[string]string{"name": "The prompt to delete."}, "name"),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					Name string `json:"name"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				if err := o.entities.DeletePrompt(sender.ID, arguments.Name); err != nil {
					return "", err
				}
				o.onLocalChange()
				return fmt.Sprintf("Prompt %q deleted.", arguments.Name), nil
			},
		},
		generator.Tool{
			Definition: llm.ToolDefinition{
				Name: ToolUsePrompt,
				Description: "Make one of the sender's saved prompts your personality in their new " +
					"conversations. An empty name restores the profile's personality.",
				InputSchema: generator.ObjectSchema(map[string]string{"name": "A saved prompt name, or empty."}, "name"),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					Name string `json:"name"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				if err := o.entities.UsePrompt(sender.ID, arguments.Name); err != nil {
					return "", err
				}
				o.onLocalChange()
				if arguments.Name == "" {
					return fmt.Sprintf("%s's new conversations use the profile personality.", sender.Username), nil
				}
				return fmt.Sprintf("%s's new conversations use prompt %q.", sender.Username, arguments.Name), nil
			},
		},
	)

	if o.fetcher != nil {
		set.Add(generator.Tool{
			Definition: llm.ToolDefinition{
				Name:        ToolFetchURL,
				Description: "Fetch a web page or text document over HTTP(S) and return its readable text.",
				InputSchema: generator.ObjectSchema(map[string]string{"url": "An absolute http or https URL."}, "url"),
			},
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var arguments struct {
					URL string `json:"url"`
				}
				if err := generator.DecodeArguments(input, &arguments); err != nil {
					return "", err
				}
				return o.fetcher.Fetch(ctx, arguments.URL)
			},
		})
	}
	return set
}

func (o *Orchestrator) profileNames() []string {
	names := make([]string, 0, len(o.profiles))
	for name := range o.profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (o *Orchestrator) memberByUsername(channelID, username string) (entitycache.User, bool) {
	for _, member := range o.entities.Members(channelID) {
		if member.Username == username {
			return member, true
		}
	}
	return entitycache.User{}, false
}
