package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbguardian/internal/domain"
)

func TestLocalStorage(t *testing.T) {
	Convey("Given a LocalStorage", t, func() {
		ctx := context.Background()
		tempDir := t.TempDir()

		Convey("NewLocal", func() {
			Convey("When creating with a nested path", func() {
				newPath := filepath.Join(tempDir, "new", "nested", "dir")
				storage, err := NewLocal(newPath)

				Convey("It should create the directory", func() {
					So(err, ShouldBeNil)
					So(storage.Dir(), ShouldEqual, newPath)

					info, err := os.Stat(newPath)
					So(err, ShouldBeNil)
					So(info.IsDir(), ShouldBeTrue)
				})
			})
		})

		storage, err := NewLocal(filepath.Join(tempDir, "fallback"))
		So(err, ShouldBeNil)

		source := filepath.Join(tempDir, "backup_shop_20260101_030000.dump")
		So(os.WriteFile(source, []byte("dump contents"), 0644), ShouldBeNil)

		Convey("Put", func() {
			Convey("When storing under a namespaced key", func() {
				err := storage.Put(ctx, "shop/backup_shop_20260101_030000.dump", source)

				Convey("It should write a flat file", func() {
					So(err, ShouldBeNil)

					content, err := os.ReadFile(filepath.Join(storage.Dir(), "backup_shop_20260101_030000.dump"))
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "dump contents")
				})

				Convey("It should leave no partial files behind", func() {
					entries, _ := os.ReadDir(storage.Dir())
					So(entries, ShouldHaveLength, 1)
				})
			})

			Convey("When the source does not exist", func() {
				err := storage.Put(ctx, "x.dump", filepath.Join(tempDir, "missing"))

				Convey("It should fail", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to open source")
				})
			})
		})

		Convey("Stat", func() {
			So(storage.Put(ctx, "backup_shop_20260101_030000.dump", source), ShouldBeNil)

			Convey("An existing file should report its size", func() {
				info, err := storage.Stat(ctx, "shop/backup_shop_20260101_030000.dump")
				So(err, ShouldBeNil)
				So(info.Key, ShouldEqual, "backup_shop_20260101_030000.dump")
				So(info.Size, ShouldEqual, int64(len("dump contents")))
			})

			Convey("A missing file should be ErrObjectNotFound", func() {
				_, err := storage.Stat(ctx, "backup_crm_20260101_030000.dump")
				So(errors.Is(err, domain.ErrObjectNotFound), ShouldBeTrue)
			})

			Convey("Traversal should never leave the directory", func() {
				_, err := storage.Stat(ctx, "..")
				So(errors.Is(err, domain.ErrObjectNotFound), ShouldBeTrue)
			})
		})

		Convey("List", func() {
			So(os.WriteFile(filepath.Join(storage.Dir(), "backup_shop_20260101_030000.dump"), []byte("a"), 0644), ShouldBeNil)
			So(os.WriteFile(filepath.Join(storage.Dir(), "backup_crm_20260102_030000.dump.enc"), []byte("b"), 0644), ShouldBeNil)
			So(os.WriteFile(filepath.Join(storage.Dir(), ".partial-123"), []byte("c"), 0644), ShouldBeNil)
			So(os.Mkdir(filepath.Join(storage.Dir(), "subdir"), 0755), ShouldBeNil)

			Convey("Without a prefix it should list only complete files", func() {
				files, err := storage.List(ctx, "")
				So(err, ShouldBeNil)
				So(files, ShouldHaveLength, 2)
			})

			Convey("With a prefix it should filter by name", func() {
				files, err := storage.List(ctx, "backup_crm_")
				So(err, ShouldBeNil)
				So(files, ShouldHaveLength, 1)
				So(files[0].Key, ShouldEqual, "backup_crm_20260102_030000.dump.enc")
			})

			Convey("A removed directory should list as empty", func() {
				So(os.RemoveAll(storage.Dir()), ShouldBeNil)
				files, err := storage.List(ctx, "")
				So(err, ShouldBeNil)
				So(files, ShouldBeEmpty)
			})
		})

		Convey("Remove", func() {
			So(storage.Put(ctx, "backup_shop_20260101_030000.dump", source), ShouldBeNil)

			Convey("An existing file should be deleted by its namespaced key", func() {
				So(storage.Remove(ctx, "shop/backup_shop_20260101_030000.dump"), ShouldBeNil)

				_, err := os.Stat(filepath.Join(storage.Dir(), "backup_shop_20260101_030000.dump"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("A missing file should be ErrObjectNotFound", func() {
				err := storage.Remove(ctx, "nonexistent.dump")
				So(errors.Is(err, domain.ErrObjectNotFound), ShouldBeTrue)
			})
		})

		Convey("Location should be the absolute path of the flat file", func() {
			loc := storage.Location("shop/backup_shop_20260101_030000.dump")
			So(loc, ShouldEqual, filepath.Join(storage.Dir(), "backup_shop_20260101_030000.dump"))
			So(filepath.IsAbs(loc), ShouldBeTrue)
		})
	})
}

func TestS3Helpers(t *testing.T) {
	Convey("Given S3 location helpers", t, func() {
		Convey("Endpoints without a scheme should get one", func() {
			So(endpointURL("minio:9000", false), ShouldEqual, "http://minio:9000")
			So(endpointURL("minio:9000", true), ShouldEqual, "https://minio:9000")
			So(endpointURL("https://s3.example.com", false), ShouldEqual, "https://s3.example.com")
		})

		Convey("Locations should round-trip to keys", func() {
			s := &S3Storage{}
			loc := s.Location("shop/backup_shop_20260101_030000.dump")
			So(loc, ShouldEqual, "s3://shop/backup_shop_20260101_030000.dump")
			So(domain.KeyFromLocation(domain.StoragePrimary, loc), ShouldEqual, "shop/backup_shop_20260101_030000.dump")
		})
	})
}
