package downloader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Caches downloads in a JSON file on disk, in front of another
// Downloader. Useful to avoid hitting the drive host on every restart
// during development.
type Filesystem struct {
	Path    string
	Next    Downloader
	Records map[string]fsRecord
	TimeNow func() time.Time

	mutex sync.Mutex
}

type fsRecord struct {
	Body        string `json:"body"`
	RetrievedAt string `json:"retrieved_at"`
}

func NewFilesystem(path string, next Downloader) (*Filesystem, error) {
	fs := &Filesystem{
		Path:    path,
		Next:    next,
		Records: map[string]fsRecord{},
		TimeNow: time.Now,
	}

	err := fs.load()
	if err != nil {
		return nil, err
	}

	return fs, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if options.Cache {
		if record, found := f.Records[url]; found {
			retrievedAt, err := time.Parse(time.RFC3339, record.RetrievedAt)
			if err != nil {
				return nil, err
			}
			if retrievedAt.Add(options.CacheTTL).After(f.TimeNow()) {
				body, err := base64.StdEncoding.DecodeString(record.Body)
				if err != nil {
					return nil, fmt.Errorf("decoding: %w", err)
				}
				log.Printf("[CACHE] hit url=%s", url)
				return body, nil
			}
			log.Printf("[CACHE] expired url=%s", url)
		}
	}

	body, err := f.Next.Get(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}

	if options.Cache {
		f.Records[url] = fsRecord{
			Body:        base64.StdEncoding.EncodeToString(body),
			RetrievedAt: f.TimeNow().UTC().Format(time.RFC3339),
		}
		err = f.save()
		if err != nil {
			return nil, fmt.Errorf("saving: %w", err)
		}
	}

	return body, nil
}

func (f *Filesystem) load() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	_, err := os.Stat(f.Path)
	if os.IsNotExist(err) {
		return nil
	}

	buf, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	err = json.Unmarshal(buf, &f.Records)
	if err != nil {
		return fmt.Errorf("unmarshalling: %w", err)
	}

	return nil
}

func (f *Filesystem) save() error {
	buf, err := json.Marshal(f.Records)
	if err != nil {
		return fmt.Errorf("marshalling: %w", err)
	}

	err = os.WriteFile(f.Path, buf, 0644)
	if err != nil {
		return fmt.Errorf("writing: %w", err)
	}

	return nil
}
