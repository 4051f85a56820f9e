// Sample objects and workloads for the demo and bench commands
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/agilira/mnemos"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Money compares by amount and currency only; Display is presentation.
type Money struct {
	Cents    int64
	Currency string
	Display  string
}

// Equal reports whether two amounts are the same sum.
func (m Money) Equal(o Money) bool {
	return m.Cents == o.Cents && m.Currency == o.Currency
}

// Widget is the demo object: simple fields tracked automatically, a
// content-tracked collection, an identity-tracked collection, a custom
// equality field and fields that are never tracked.
type Widget struct {
	ID       uuid.UUID
	Name     string
	Price    float64
	Quantity int
	Updated  time.Time
	Tags     []string `mnemos:"track,contents"`
	Parts    []string `mnemos:"track"`
	Cost     Money    `mnemos:"track,custom"`
	Secret   string   `mnemos:"-"`
	scratch  map[string]int
}

// demoStep is one mutation of the walkthrough.
type demoStep struct {
	title  string
	mutate func(w *Widget)
}

func demoSteps() []demoStep {
	return []demoStep{
		{"first observation", func(w *Widget) {}},
		{"no mutation", func(w *Widget) {}},
		{"price and tags change", func(w *Widget) {
			w.Price = 12.5
			w.Tags = append(w.Tags, "sale")
		}},
		{"in-place part edit (compared by identity)", func(w *Widget) {
			w.Parts[0] = "bolt-v2"
		}},
		{"parts replaced", func(w *Widget) {
			w.Parts = []string{"bolt-v2", "nut"}
		}},
		{"cost display only", func(w *Widget) {
			w.Cost.Display = "EUR 10.00"
		}},
		{"cost amount", func(w *Widget) {
			w.Cost.Cents = 1250
		}},
		{"untracked fields", func(w *Widget) {
			w.Secret = "rotated"
			w.scratch["hits"]++
		}},
		{"price becomes NaN", func(w *Widget) {
			w.Price = math.NaN()
		}},
		{"NaN price unchanged", func(w *Widget) {}},
	}
}

func newDemoWidget() *Widget {
	return &Widget{
		ID:       uuid.New(),
		Name:     "gear",
		Price:    10,
		Quantity: 3,
		Updated:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Tags:     []string{"metal"},
		Parts:    []string{"bolt"},
		Cost:     Money{Cents: 1000, Currency: "EUR", Display: "€10.00"},
		scratch:  map[string]int{},
	}
}

// registerDemoTypes installs the equality of Money.
func registerDemoTypes(e *mnemos.Engine) {
	mnemos.RegisterEquality(e, func(a, b Money) bool { return a.Equal(b) })
}

// benchItem is the bench object; each worker mutates only its own items.
type benchItem struct {
	ID      uuid.UUID
	Name    string
	Counter int
	Score   float64
	Labels  []string `mnemos:"track,contents"`
}

// benchResult summarizes one bench run.
type benchResult struct {
	Objects    int
	Diffs      int64
	Changed    int64
	Duration   time.Duration
	Throughput float64
}

// runBench has workers detect changes on their share of objects for the
// given number of rounds. Odd rounds mutate, even rounds do not.
func runBench(ctx context.Context, e *mnemos.Engine, workers, objects, iterations int) (benchResult, error) {
	if workers <= 0 || objects <= 0 || iterations <= 0 {
		return benchResult{}, fmt.Errorf("workers, objects and iterations must be positive")
	}
	if workers > objects {
		workers = objects
	}

	items := make([]*benchItem, objects)
	for i := range items {
		items[i] = &benchItem{ID: uuid.New(), Name: fmt.Sprintf("item-%d", i), Labels: []string{"new"}}
	}

	diffs := make([]int64, workers)
	changed := make([]int64, workers)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			wctx := mnemos.WithWorkerID(gctx, fmt.Sprintf("bench-%d", w))
			for round := 0; round < iterations; round++ {
				for i := w; i < objects; i += workers {
					if err := gctx.Err(); err != nil {
						return err
					}
					item := items[i]
					if round%2 == 1 {
						item.Counter++
						item.Score += 0.5
						if round%4 == 1 {
							item.Labels = append(item.Labels, fmt.Sprintf("r%d", round))
						}
					}
					result := e.DetectChangesContext(wctx, item)
					diffs[w]++
					if result.HasChanges {
						changed[w]++
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	elapsed := time.Since(start)

	res := benchResult{Objects: objects, Duration: elapsed}
	for w := range diffs {
		res.Diffs += diffs[w]
		res.Changed += changed[w]
	}
	if elapsed > 0 {
		res.Throughput = float64(res.Diffs) / elapsed.Seconds()
	}
	return res, nil
}

// typeName is used in demo output.
func typeName(v any) string {
	return reflect.TypeOf(v).Elem().Name()
}
