// Package storage implements the on-disk layer of the data store: immutable
// Parquet files that embed their table schema, the base/patch naming scheme
// that decides which files are live, lazy pruned reads of a single file, and
// the merged scan of a whole table directory.
package storage

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/apache/arrow-go/v18/parquet/file"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/schema"
)

// Kind distinguishes full snapshots from incremental files.
type Kind string

const (
	KindBase  Kind = "base"
	KindPatch Kind = "patch"
)

// Extension is the file extension of table files.
const Extension = ".parquet"

// SchemaMetadataKey is the Parquet key/value metadata entry holding the
// serialized table schema.
const SchemaMetadataKey = "datastore.schema"

var fileNamePattern = regexp.MustCompile(`^(base|patch)-(\d+)\.parquet$`)

// FileName returns the file name for a file of the given kind and index.
func FileName(kind Kind, index uint64) string {
	return fmt.Sprintf("%s-%d%s", kind, index, Extension)
}

// ParseFileName splits a table file name into kind and index.
func ParseFileName(name string) (Kind, uint64, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return Kind(m[1]), index, true
}

type tableFile struct {
	kind  Kind
	index uint64
	name  string
}

func listTableFiles(dir string) ([]tableFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list table directory").
			WithDetail("dir", dir)
	}
	var files []tableFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, index, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		files = append(files, tableFile{kind: kind, index: index, name: e.Name()})
	}
	slices.SortFunc(files, func(a, b tableFile) int {
		return cmp.Compare(a.index, b.index)
	})
	return files, nil
}

// ListLiveFiles returns the paths of the live files of a table directory in
// ascending index order: the highest-indexed base file, followed by every
// patch file with a greater index. Without a base file every patch is live.
// A missing or empty directory yields an empty list.
func ListLiveFiles(dir string) ([]string, error) {
	files, err := listTableFiles(dir)
	if err != nil {
		return nil, err
	}

	base := -1
	for i, f := range files {
		if f.kind == KindBase {
			base = i
		}
	}

	var live []string
	for i, f := range files {
		switch {
		case i == base:
			live = append(live, filepath.Join(dir, f.name))
		case f.kind == KindPatch && (base < 0 || f.index > files[base].index):
			live = append(live, filepath.Join(dir, f.name))
		}
	}
	return live, nil
}

// NextIndex returns one more than the highest index of any table file in dir,
// or 0 when there are none.
func NextIndex(dir string) (uint64, error) {
	files, err := listTableFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	return files[len(files)-1].index + 1, nil
}

// ReadTableSchema reads the schema embedded in the last live file of dir.
func ReadTableSchema(dir string) (*schema.Table, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "table directory does not exist").
			WithDetail("dir", dir)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrorTypeIntegrity, "table path is not a directory").
			WithDetail("dir", dir)
	}
	live, err := ListLiveFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, errors.New(errors.ErrorTypeIntegrity, "table directory has no live files").
			WithDetail("dir", dir)
	}
	return ReadFileSchema(live[len(live)-1])
}

// ReadFileSchema reads the schema embedded in a single file.
func ReadFileSchema(path string) (*schema.Table, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to open table file").
			WithDetail("path", path)
	}
	defer rdr.Close()
	return schemaOf(rdr, path)
}

func schemaOf(rdr *file.Reader, path string) (*schema.Table, error) {
	desc := rdr.MetaData().KeyValueMetadata().FindValue(SchemaMetadataKey)
	if desc == nil {
		return nil, errors.New(errors.ErrorTypeIntegrity, "table file has no embedded schema").
			WithDetail("path", path)
	}
	s, err := schema.Parse(*desc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "table file has an invalid embedded schema").
			WithDetail("path", path)
	}
	return s, nil
}
