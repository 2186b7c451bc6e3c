package category_test

import (
	"errors"
	"testing"

	"github.com/okian/cadenza/internal/domain/category"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Given the category registry", t, func() {
		all := category.All()

		Convey("Then it holds exactly the five categories", func() {
			So(len(all), ShouldEqual, 5)
			names := []category.Category{}
			for _, s := range all {
				names = append(names, s.Category)
			}
			So(names, ShouldResemble, []category.Category{
				category.Music, category.Drawing, category.Drums, category.Violin, category.Vocal,
			})
		})

		Convey("Then every category has a fixed, non-empty, duplicate-free key set", func() {
			for _, s := range all {
				keys := category.MetricKeysFor(s.Category)
				So(len(keys), ShouldBeGreaterThan, 0)

				seen := map[string]bool{}
				for _, k := range keys {
					So(seen[k], ShouldBeFalse)
					seen[k] = true
				}
				So(category.MetricKeysFor(s.Category), ShouldResemble, keys)
			}
		})

		Convey("Then music keeps its canonical order", func() {
			So(category.MetricKeysFor(category.Music), ShouldResemble, []string{
				"rhythm", "theoreticalUnderstanding", "performance", "earTraining", "assignment", "technique",
			})
		})

		Convey("Then callers cannot mutate the registry through returned slices", func() {
			keys := category.MetricKeysFor(category.Drums)
			keys[0] = "tampered"
			So(category.MetricKeysFor(category.Drums)[0], ShouldEqual, "timing")

			all[0].MetricKeys[0] = "tampered"
			So(category.All()[0].MetricKeys[0], ShouldEqual, "rhythm")
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Given category names", t, func() {
		Convey("When the name is known in any case", func() {
			c, err := category.Parse("  Violin ")
			So(err, ShouldBeNil)
			So(c, ShouldEqual, category.Violin)
			So(c.Valid(), ShouldBeTrue)
		})

		Convey("When the name is unknown", func() {
			_, err := category.Parse("piano")
			So(errors.Is(err, category.ErrUnknown), ShouldBeTrue)
			So(category.MetricKeysFor("piano"), ShouldBeNil)
			_, err = category.Lookup("piano")
			So(errors.Is(err, category.ErrUnknown), ShouldBeTrue)
		})

		Convey("When checking membership", func() {
			s, err := category.Lookup(category.Vocal)
			So(err, ShouldBeNil)
			So(s.Has("pitch"), ShouldBeTrue)
			So(s.Has("rhythm"), ShouldBeFalse)
		})
	})
}
