package errkind_test

import (
	"errors"
	"testing"

	"github.com/okian/cadenza/pkg/errkind"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	errNotFound = errors.New("not found")
	errBad      = errors.New("bad request")
)

func TestErrkind(t *testing.T) {
	Convey("Given a wrapped error", t, func() {
		cause := errors.New("student s-1")
		err := errkind.Wrap("attendance.record", errNotFound, cause)

		Convey("Then errors.Is matches both the kind and the cause", func() {
			So(errors.Is(err, errNotFound), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(errors.Is(err, errBad), ShouldBeFalse)
		})

		Convey("And the message carries op, kind and cause", func() {
			So(err.Error(), ShouldEqual, "attendance.record: not found: student s-1")
		})

		Convey("And KindOf finds the kind through an Op wrapper", func() {
			outer := errkind.Op("submit", err)
			So(errkind.KindOf(outer), ShouldEqual, errNotFound)
		})
	})

	Convey("Given a nil cause", t, func() {
		So(errkind.Wrap("op", errBad, nil), ShouldBeNil)
		So(errkind.Op("op", nil), ShouldBeNil)
	})

	Convey("Given a bare kind", t, func() {
		err := errkind.New("api.submit", errBad)
		So(err.Error(), ShouldEqual, "api.submit: bad request")
		So(errkind.KindOf(err), ShouldEqual, errBad)
		So(errkind.KindOf(errors.New("plain")), ShouldBeNil)
	})
}
