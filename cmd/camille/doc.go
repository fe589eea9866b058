// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Camille is a Mattermost chat bot. It attaches to the websocket event
// stream of every configured server, keeps a replica of the server's
// users, channels and memberships, and answers posts with a language
// model that can call a handful of tools.
//
// # Usage
//
//	camille --config /etc/camille/camille.yaml
//
// The config file may also be named by CAMILLE_CONFIG. See package
// [config] for its format and the CAMILLE_* overrides. --check loads
// and validates the config, then exits.
//
// # Runtime
//
// One goroutine per server runs sessions back to back: connect, wait
// for hello, resync the entity cache, then process events one at a
// time until the stream breaks. Broken sessions are restarted with
// exponential backoff (1s doubling to 1m); a session that cannot
// resolve its own identity stops that server for good, since the bot
// could not tell its own posts apart and would answer itself.
//
// The entity cache of each server is snapshotted to
// <state_dir>/<server>.cache when a tool changes notes or a model
// preference, and at shutdown. It is restored at startup.
//
// An admin HTTP server (admin.listen) serves /healthz, /metrics and
// /version.
//
// SIGINT and SIGTERM stop every session, save the snapshots and close
// the history store.
package main
