package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appconfig "github.com/semmidev/dbguardian/internal/config"
	"github.com/semmidev/dbguardian/internal/domain"
)

const driveScheme = "gdrive://"

const driveFields = "nextPageToken, files(id, name, size, modifiedTime)"

// GDriveStorage keeps backups in one Google Drive folder. The object key is
// stored verbatim as the file name, slashes included.
type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(ctx context.Context, cfg appconfig.GDriveConfig, opts ...option.ClientOption) (*GDriveStorage, error) {
	switch {
	case cfg.ClientSecretFile != "" && cfg.RefreshToken != "":
		oauthCfg, err := DriveOAuthConfig(cfg.ClientSecretFile, "")
		if err != nil {
			return nil, err
		}
		ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	case cfg.CredentialsFile != "":
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, opts...)
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStorage) Put(ctx context.Context, key string, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	existing, err := g.find(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
		return err
	}
	if existing != nil {
		_, err = g.service.Files.Update(existing.Id, &drive.File{}).Media(file).Context(ctx).Do()
	} else {
		_, err = g.service.Files.Create(&drive.File{Name: key, Parents: []string{g.folderID}}).
			Media(file).
			Context(ctx).
			Do()
	}
	if err != nil {
		return fmt.Errorf("failed to upload %s to gdrive: %w", key, err)
	}

	return nil
}

func (g *GDriveStorage) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	f, err := g.find(ctx, key)
	if err != nil {
		return domain.ObjectInfo{}, err
	}
	return objectInfo(f), nil
}

// List pages through the folder and keeps the files whose name starts with
// prefix. Drive queries have no prefix operator.
func (g *GDriveStorage) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", quote(g.folderID))

	var objects []domain.ObjectInfo
	err := g.service.Files.List().
		Q(query).
		Fields(driveFields).
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if strings.HasPrefix(f.Name, prefix) {
					objects = append(objects, objectInfo(f))
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return objects, nil
}

func (g *GDriveStorage) Remove(ctx context.Context, key string) error {
	f, err := g.find(ctx, key)
	if err != nil {
		return err
	}

	if err := g.service.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
		if isDriveNotFound(err) {
			return fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (g *GDriveStorage) Location(key string) string {
	return driveScheme + key
}

func (g *GDriveStorage) find(ctx context.Context, key string) (*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and name = '%s' and trashed=false", quote(g.folderID), quote(key))

	list, err := g.service.Files.List().
		Q(query).
		Fields(driveFields).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		if isDriveNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to find %s: %w", key, err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	}

	return list.Files[0], nil
}

func objectInfo(f *drive.File) domain.ObjectInfo {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return domain.ObjectInfo{Key: f.Name, Size: f.Size, ModTime: modTime}
}

// quote escapes a literal for the Drive query language.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func isDriveNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
