package domain

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestKeyFromLocation(t *testing.T) {
	Convey("Given recorded storage locations", t, func() {
		Convey("Primary locations should drop their scheme", func() {
			So(KeyFromLocation(StoragePrimary, "s3://shop/backup_shop_20260301_030000.dump"), ShouldEqual, "shop/backup_shop_20260301_030000.dump")
			So(KeyFromLocation(StoragePrimary, "gdrive://shop/backup_shop_20260301_030000.dump"), ShouldEqual, "shop/backup_shop_20260301_030000.dump")
		})

		Convey("Fallback locations should reduce to the file name", func() {
			So(KeyFromLocation(StorageFallback, "/fallback/backup_shop_20260301_030000.dump"), ShouldEqual, "backup_shop_20260301_030000.dump")
		})

		Convey("A location without a scheme should be kept as is", func() {
			So(KeyFromLocation(StoragePrimary, "shop/backup.dump"), ShouldEqual, "shop/backup.dump")
		})
	})
}
