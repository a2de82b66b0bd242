package snapshot_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/snapshot"
	"github.com/okian/ladder/pkg/logger"
)

type fakeReader struct {
	records [][]string
	err     error
}

func (f fakeReader) Read(context.Context, string) ([][]string, error) {
	return f.records, f.err
}

func TestEntries(t *testing.T) {
	Convey("Given snapshot records with a header", t, func() {
		entries, bad := snapshot.Entries([][]string{
			{"Deducted Amount", "note", "player_id"},
			{"10.5", "", "1"},
			{"oops", "", "2"},
			{"", "", "3"},
			{"1_000", "", ""},
		})

		Convey("Then columns are found by name and bad amounts are zero", func() {
			So(bad, ShouldEqual, 1)
			So(entries, ShouldResemble, []model.AdjustmentEntry{
				{SubjectID: "1", Amount: 10.5},
				{SubjectID: "2", Amount: 0},
				{SubjectID: "3", Amount: 0},
			})
		})
	})

	Convey("Given snapshot records without a header", t, func() {
		entries, bad := snapshot.Entries([][]string{{"7", "3"}, {"8", "2,5"}, {"9"}})

		Convey("Then ids and amounts are positional", func() {
			So(bad, ShouldEqual, 0)
			So(entries, ShouldResemble, []model.AdjustmentEntry{
				{SubjectID: "7", Amount: 3},
				{SubjectID: "8", Amount: 2.5},
				{SubjectID: "9", Amount: 0},
			})
		})
	})

	Convey("Given an amount with a thousands separator", t, func() {
		entries, bad := snapshot.Entries([][]string{{"user_id", "deducted"}, {"7", "1,234"}})

		Convey("Then it is reported as bad instead of shrunk", func() {
			So(bad, ShouldEqual, 1)
			So(entries, ShouldResemble, []model.AdjustmentEntry{{SubjectID: "7", Amount: 0}})
		})
	})

	Convey("Given an unrecognized header", t, func() {
		entries, _ := snapshot.Entries([][]string{{"who", "how much"}, {"7", "3"}})
		So(entries, ShouldResemble, []model.AdjustmentEntry{{SubjectID: "7", Amount: 3}})
	})
}

func TestFromEntries(t *testing.T) {
	Convey("Given duplicate rows for one subject", t, func() {
		adj := snapshot.FromEntries([]model.AdjustmentEntry{
			{SubjectID: "1", Amount: 4},
			{SubjectID: "2", Amount: 1},
			{SubjectID: "1", Amount: 6},
		})

		Convey("Then the amounts are summed", func() {
			So(adj.Len(), ShouldEqual, 2)
			So(adj.Deduction("1"), ShouldEqual, 10)
			So(adj.Deduction("missing"), ShouldEqual, 0)
		})
	})
}

func TestApply(t *testing.T) {
	Convey("Given records and adjustments", t, func() {
		records := []model.Record{
			{SubjectID: "1", Value: 100, Tiers: map[string]float64{"low": 1}},
			{SubjectID: "2", Value: 5},
			{SubjectID: "3", Value: 50},
		}
		adj := snapshot.Adjustments{"1": 30, "2": 8}

		Convey("When applied without clamping", func() {
			out := adj.Apply(records, false)

			Convey("Then value is reduced exactly and may go negative", func() {
				So(out[0].Value, ShouldEqual, 70)
				So(out[0].Deduction, ShouldEqual, 30)
				So(out[1].Value, ShouldEqual, -3)
				So(out[2].Value, ShouldEqual, 50)
				So(out[2].Deduction, ShouldEqual, 0)
			})

			Convey("Then the inputs are left untouched", func() {
				So(records[0].Value, ShouldEqual, 100)
				out[0].Tiers["low"] = 99
				So(records[0].Tiers["low"], ShouldEqual, 1)
			})
		})

		Convey("When applied with clamping", func() {
			out := adj.Apply(records, true)
			So(out[1].Value, ShouldEqual, 0)
			So(out[0].Value, ShouldEqual, 70)
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("Given an unreadable snapshot", t, func() {
		adj := snapshot.Load(context.Background(), fakeReader{err: model.ErrMalformedArtifact}, "snapshot.csv", logger.Nop())
		So(adj.Len(), ShouldEqual, 0)
	})

	Convey("Given a readable snapshot", t, func() {
		adj := snapshot.Load(context.Background(), fakeReader{records: [][]string{{"id", "amount"}, {"1", "2"}, {"1", "3"}}}, "snapshot.csv", nil)
		So(adj.Deduction("1"), ShouldEqual, 5)
	})
}
