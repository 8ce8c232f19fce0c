/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nwtime/swsync/mastertime"
)

// controlServer exposes the two mastertime mutators a running
// syncmasterd otherwise has no way to reach from another CLI
// invocation: set-reference-time and adjust-reference-time.
type controlServer struct {
	source *mastertime.Source
	server *http.Server
}

func newControlServer(addr string, source *mastertime.Source) *controlServer {
	c := &controlServer{source: source}
	mux := http.NewServeMux()
	mux.HandleFunc("/control/set-reference-time", c.handleSetReferenceTime)
	mux.HandleFunc("/control/adjust-reference-time", c.handleAdjustReferenceTime)
	c.server = &http.Server{Addr: addr, Handler: mux}
	return c
}

func (c *controlServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			log.Warningf("[control] shutdown: %v", err)
		}
	}()
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

func (c *controlServer) handleSetReferenceTime(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("value")
	if !c.source.SetReferenceTime(value) {
		http.Error(w, fmt.Sprintf("could not parse reference time %q", value), http.StatusBadRequest)
		return
	}
	log.Infof("[control] reference time set to %q", value)
	w.WriteHeader(http.StatusNoContent)
}

func (c *controlServer) handleAdjustReferenceTime(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("delta")
	delta, err := strconv.ParseFloat(value, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("could not parse delta %q: %v", value, err), http.StatusBadRequest)
		return
	}
	now := c.source.AdjustReferenceTime(delta)
	log.Infof("[control] reference time adjusted by %gs, now %g", delta, now)
	_ = json.NewEncoder(w).Encode(map[string]float64{"now": now})
}

// controlClient is the thin client the set-reference-time and
// adjust-reference-time subcommands use to reach a running daemon.
type controlClient struct {
	baseURL string
	http    *http.Client
}

func newControlClient(baseURL string) *controlClient {
	return &controlClient{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *controlClient) SetReferenceTime(value string) error {
	resp, err := c.http.Get(fmt.Sprintf("%s/control/set-reference-time?value=%s", c.baseURL, url.QueryEscape(value)))
	if err != nil {
		return fmt.Errorf("contacting control endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("control endpoint returned %s", resp.Status)
	}
	return nil
}

func (c *controlClient) AdjustReferenceTime(delta float64) error {
	resp, err := c.http.Get(fmt.Sprintf("%s/control/adjust-reference-time?delta=%s", c.baseURL, strconv.FormatFloat(delta, 'f', -1, 64)))
	if err != nil {
		return fmt.Errorf("contacting control endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control endpoint returned %s", resp.Status)
	}
	return nil
}
