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
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/nwtime/swsync/monitor"
)

// consoleObserver renders state transitions and periodic sample
// summaries to stdout. It never blocks: every Notify call does at most
// a couple of small terminal writes.
type consoleObserver struct {
	colorEnabled bool
	lastPrinted  time.Time
	printEvery   time.Duration
}

func newConsoleObserver() *consoleObserver {
	return &consoleObserver{
		colorEnabled: term.IsTerminal(int(os.Stdout.Fd())),
		printEvery:   time.Second,
	}
}

func (o *consoleObserver) Notify(ev monitor.Event) {
	switch ev.Kind {
	case monitor.EventStateChange:
		o.printStateChange(ev.StateChange)
	case monitor.EventSample:
		o.maybePrintSample(ev.Sample)
	case monitor.EventError:
		o.printError(ev.Error)
	}
}

func (o *consoleObserver) printStateChange(sc monitor.StateChangeEvent) {
	label := sc.New.String()
	if o.colorEnabled {
		label = stateColor(sc.New).Sprint(label)
	}
	fmt.Printf("state: %s -> %s\n", sc.Old, label)
}

func (o *consoleObserver) maybePrintSample(s monitor.SampleEvent) {
	if time.Since(o.lastPrinted) < o.printEvery {
		return
	}
	o.lastPrinted = time.Now()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"timestamp", "offset (s)", "delay (s)"})
	table.Append([]string{
		fmt.Sprintf("%.6f", s.Timestamp),
		fmt.Sprintf("%+.6f", s.Offset),
		fmt.Sprintf("%.6f", s.Delay),
	})
	table.Render()
}

func (o *consoleObserver) printError(e monitor.ErrorEvent) {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Detail)
	if o.colorEnabled {
		msg = color.YellowString(msg)
	}
	fmt.Println(msg)
}

func stateColor(s monitor.State) *color.Color {
	switch s {
	case monitor.StateSynced:
		return color.New(color.FgGreen)
	case monitor.StateSyncing:
		return color.New(color.FgCyan)
	case monitor.StateLargeOffset:
		return color.New(color.FgYellow)
	case monitor.StateError, monitor.StateMasterOffline:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}
