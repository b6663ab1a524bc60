package aggregator_test

import (
	"context"
	"testing"

	"github.com/fogfactory/splitjoin"
	"github.com/fogfactory/splitjoin/aggregator"
	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
)

func subUnits(payloads ...string) []*splitjoin.SubUnit {
	parent := splitjoin.NewMessage(nil, nil)
	return lo.Map(payloads, func(p string, i int) *splitjoin.SubUnit {
		return splitjoin.NewSubUnit(parent.Derive([]byte(p)), i+1)
	})
}

func TestAppend(t *testing.T) {
	// Arrange
	original := splitjoin.NewMessage([]byte("ignored"), nil)

	// Act
	err := aggregator.Append([]byte(",")).Join(context.Background(), original, subUnits("a", "b", "c"))

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, string(original.Payload), "a,b,c")
}

func TestJSONArray(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		// Arrange
		original := splitjoin.NewMessage(nil, nil)

		// Act
		err := aggregator.JSONArray().Join(context.Background(), original, subUnits(`{"a":1}`, `2`, `"c"`))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, string(original.Payload), `[{"a":1},2,"c"]`)
	})

	t.Run("error_invalid_element", func(t *testing.T) {
		// Arrange
		original := splitjoin.NewMessage([]byte("kept"), nil)

		// Act
		err := aggregator.JSONArray().Join(context.Background(), original, subUnits(`1`, `{`))

		// Assert
		td.CmpString(t, err, "sub-unit 2 is not valid JSON")
		td.Cmp(t, string(original.Payload), "kept")
	})
}

func TestSorted(t *testing.T) {
	// Arrange
	units := subUnits("a", "b", "c")
	reversed := []*splitjoin.SubUnit{units[2], units[0], units[1]}
	original := splitjoin.NewMessage(nil, nil)

	// Act
	err := aggregator.Sorted(aggregator.Append(nil)).Join(context.Background(), original, reversed)

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, string(original.Payload), "abc")
	td.Cmp(t, reversed[0].Position, 3, "input is not reordered in place")
}

func TestFilter(t *testing.T) {
	// Arrange
	original := splitjoin.NewMessage(nil, nil)
	odd := func(sub *splitjoin.SubUnit) bool { return sub.Position%2 == 1 }

	// Act
	err := aggregator.Filter(odd, aggregator.Append(nil)).Join(context.Background(), original, subUnits("a", "b", "c", "d"))

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, string(original.Payload), "ac")
}

func TestMetadata(t *testing.T) {
	// Arrange
	units := subUnits("a", "b")
	units[0].Metadata.Set("status", "first")
	units[1].Metadata.Set("status", "second")
	units[1].Metadata.Set("other", "ignored")
	original := splitjoin.NewMessage([]byte("payload"), nil)

	// Act
	err := aggregator.Metadata("status").Join(context.Background(), original, units)

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, original.Metadata, splitjoin.Metadata{"status": "second"})
	td.Cmp(t, string(original.Payload), "payload")
}
