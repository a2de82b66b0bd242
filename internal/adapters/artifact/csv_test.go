package artifact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/adapters/artifact"
	"github.com/okian/ladder/internal/domain/model"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestCSVRead(t *testing.T) {
	Convey("Given a CSV side artifact reader", t, func() {
		ctx := context.Background()
		r := artifact.NewCSV()

		Convey("When the path is empty or missing", func() {
			a, errA := r.Read(ctx, "")
			b, errB := r.Read(ctx, filepath.Join(t.TempDir(), "absent.csv"))

			Convey("Then nothing is returned and nothing fails", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a, ShouldBeEmpty)
				So(b, ShouldBeEmpty)
			})
		})

		Convey("When the file is regular CSV with ragged rows", func() {
			p := write(t, "bl.csv", "\ufeffuser_id,reason\n 7 ,spam\n\n8\n9,x,extra\n")
			recs, err := r.Read(ctx, p)

			Convey("Then every non-blank record is returned trimmed", func() {
				So(err, ShouldBeNil)
				So(recs, ShouldResemble, [][]string{
					{"user_id", "reason"},
					{"7", "spam"},
					{"8"},
					{"9", "x", "extra"},
				})
			})
		})

		Convey("When the file uses semicolons", func() {
			p := write(t, "snap.csv", "id;amount\n1;2,5\n")
			recs, err := r.Read(ctx, p)
			So(err, ShouldBeNil)
			So(recs, ShouldResemble, [][]string{{"id", "amount"}, {"1", "2,5"}})
		})

		Convey("When strict parsing fails on a stray quote", func() {
			p := write(t, "bad.csv", "id,note\n12,\"oops\"x\n13,fine\n")
			recs, err := r.Read(ctx, p)

			Convey("Then the file is parsed positionally", func() {
				So(err, ShouldBeNil)
				So(recs, ShouldResemble, [][]string{{"id", "note"}, {"12", "oops\"x"}, {"13", "fine"}})
			})
		})

		Convey("When the file is not text", func() {
			p := write(t, "bin.csv", "id\n\x00\x01\x02\"\xff\n")
			_, err := r.Read(ctx, p)

			Convey("Then a malformed artifact error is returned", func() {
				So(errors.Is(err, model.ErrMalformedArtifact), ShouldBeTrue)
			})
		})
	})
}

func TestParseLoose(t *testing.T) {
	Convey("Given whitespace separated lines", t, func() {
		recs, err := artifact.ParseLoose([]byte("  'a'  10\n\nb\t20\nc|30\n"))

		Convey("Then each line splits on its own delimiter", func() {
			So(err, ShouldBeNil)
			So(recs, ShouldResemble, [][]string{{"a", "10"}, {"b", "20"}, {"c", "30"}})
		})
	})
}
