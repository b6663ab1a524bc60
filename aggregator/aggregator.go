// Package aggregator provides common ways to join processed sub-units back into their original message.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fogfactory/splitjoin"
	"github.com/samber/lo"
)

// Append replaces the original payload with the sub-unit payloads concatenated, separated by sep.
func Append(sep []byte) splitjoin.Aggregator {
	return splitjoin.AggregatorFunc(func(_ context.Context, original *splitjoin.Message, subUnits []*splitjoin.SubUnit) error {
		original.Payload = bytes.Join(payloads(subUnits), sep)
		return nil
	})
}

// JSONArray replaces the original payload with a JSON array holding every sub-unit payload as an element.
// Every payload must be valid JSON.
func JSONArray() splitjoin.Aggregator {
	return splitjoin.AggregatorFunc(func(_ context.Context, original *splitjoin.Message, subUnits []*splitjoin.SubUnit) error {
		elements := make([]json.RawMessage, 0, len(subUnits))
		for _, sub := range subUnits {
			if !json.Valid(sub.Payload) {
				return fmt.Errorf("sub-unit %d is not valid JSON", sub.Position)
			}
			elements = append(elements, sub.Payload)
		}
		payload, err := json.Marshal(elements)
		if err != nil {
			return err
		}
		original.Payload = payload
		return nil
	})
}

// Sorted hands the sub-units to next ordered by position.
func Sorted(next splitjoin.Aggregator) splitjoin.Aggregator {
	return splitjoin.AggregatorFunc(func(ctx context.Context, original *splitjoin.Message, subUnits []*splitjoin.SubUnit) error {
		sorted := slices.Clone(subUnits)
		slices.SortStableFunc(sorted, func(a, b *splitjoin.SubUnit) int { return a.Position - b.Position })
		return next.Join(ctx, original, sorted)
	})
}

// Filter hands next only the sub-units keep returns true for.
func Filter(keep func(*splitjoin.SubUnit) bool, next splitjoin.Aggregator) splitjoin.Aggregator {
	return splitjoin.AggregatorFunc(func(ctx context.Context, original *splitjoin.Message, subUnits []*splitjoin.SubUnit) error {
		return next.Join(ctx, original, lo.Filter(subUnits, func(sub *splitjoin.SubUnit, _ int) bool {
			return keep(sub)
		}))
	})
}

// Metadata copies the given keys from the sub-unit metadata into the original, later positions winning.
// The original payload is left untouched.
func Metadata(keys ...string) splitjoin.Aggregator {
	return splitjoin.AggregatorFunc(func(_ context.Context, original *splitjoin.Message, subUnits []*splitjoin.SubUnit) error {
		for _, sub := range subUnits {
			for _, key := range keys {
				if value, ok := sub.Metadata[key]; ok {
					original.Metadata.Set(key, value)
				}
			}
		}
		return nil
	})
}

func payloads(subUnits []*splitjoin.SubUnit) [][]byte {
	return lo.Map(subUnits, func(sub *splitjoin.SubUnit, _ int) []byte { return sub.Payload })
}
