// Package layer encodes directory trees as reproducible, zstd-compressed tar
// streams. The same tree always encodes to the same bytes: entries are
// sorted, timestamps are pinned to the epoch, ownership is cleared, and
// permissions are reduced to 0755/0644.
package layer

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// MediaType identifies the encoding written by Encode.
const MediaType = "application/vnd.bootseq.layer.v1.tar+zstd"

var epoch = time.Unix(0, 0).UTC()

// Descriptor identifies an encoded layer.
type Descriptor struct {
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// Digest returns the "sha256:<hex>" digest of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Encode archives the tree under root. Every entry is placed under prefix
// inside the archive ("" keeps paths relative to root). Only regular files,
// directories and symlinks are accepted.
func Encode(root, prefix string) ([]byte, Descriptor, error) {
	root = filepath.Clean(root)
	prefix = strings.Trim(path.Clean("/"+filepath.ToSlash(prefix)), "/")

	var rels []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, Descriptor{}, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(rels)

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	if prefix != "" {
		if err := writeParents(tw, prefix); err != nil {
			return nil, Descriptor{}, err
		}
	}
	for _, rel := range rels {
		name := rel
		if prefix != "" {
			name = prefix + "/" + rel
		}
		if err := writeEntry(tw, filepath.Join(root, filepath.FromSlash(rel)), name); err != nil {
			return nil, Descriptor{}, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, Descriptor{}, err
	}

	compressed, err := compress(tarBuf.Bytes())
	if err != nil {
		return nil, Descriptor{}, err
	}
	return compressed, Descriptor{Digest: Digest(compressed), Size: int64(len(compressed))}, nil
}

func writeParents(tw *tar.Writer, prefix string) error {
	parts := strings.Split(prefix, "/")
	for i := range parts {
		hdr := &tar.Header{
			Typeflag: tar.TypeDir,
			Name:     strings.Join(parts[:i+1], "/") + "/",
			Mode:     0o755,
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(tw *tar.Writer, full, name string) error {
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		ModTime: epoch,
		Format:  tar.FormatPAX,
	}
	switch mode := info.Mode(); {
	case mode.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		hdr.Mode = 0o755
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return err
		}
		link := filepath.ToSlash(target)
		if path.IsAbs(link) || strings.HasPrefix(path.Join(path.Dir(name), link)+"/", "../") {
			return fmt.Errorf("%w: %s links to %q", ErrUnsafePath, name, link)
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = link
		hdr.Mode = 0o777
	case mode.IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = info.Size()
		hdr.Mode = 0o644
		if mode&0o111 != 0 {
			hdr.Mode = 0o755
		}
	default:
		return fmt.Errorf("unsupported file type %s: %s", mode.Type(), name)
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Verify checks that blob matches the descriptor.
func Verify(blob []byte, d Descriptor) error {
	if int64(len(blob)) != d.Size {
		return fmt.Errorf("layer %s: size %d, want %d", d.Digest, len(blob), d.Size)
	}
	if got := Digest(blob); got != d.Digest {
		return fmt.Errorf("layer digest mismatch: got %s, want %s", got, d.Digest)
	}
	return nil
}

// ErrUnsafePath is returned when an archive entry would land outside the
// extraction root.
var ErrUnsafePath = errors.New("layer: entry escapes destination")

// Extract unpacks an encoded layer into dest. Later layers extracted into the
// same dest overwrite earlier files. Symlinks must point inside dest, and no
// entry is written through an existing symlink, so nothing lands outside dest
// even when several layers are stacked.
func Extract(blob []byte, dest string) error {
	dec, err := zstd.NewReader(bytes.NewReader(blob), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	defer dec.Close()

	dest = filepath.Clean(dest)
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if err := checkParents(dest, target, hdr.Name); err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
				return fmt.Errorf("%w: %s is a symlink", ErrUnsafePath, hdr.Name)
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLink(dest, target, hdr.Name, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		default:
			return fmt.Errorf("layer: unsupported entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	_ = os.Remove(target)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkParents fails when any existing directory between dest and target is
// a symlink.
func checkParents(dest, target, name string) error {
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == "." {
		return err
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := dest
	for i := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, parts[i])
		p := path.Join(parts[:i+1]...)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafePath, name, p)
		}
	}
	return nil
}

// checkLink fails for absolute link targets and for relative ones that
// resolve outside dest.
func checkLink(dest, target, name, link string) error {
	if link == "" || path.IsAbs(link) || filepath.IsAbs(link) {
		return fmt.Errorf("%w: %s links to %q", ErrUnsafePath, name, link)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(link))
	if resolved != dest && !strings.HasPrefix(resolved, dest+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s links to %q", ErrUnsafePath, name, link)
	}
	return nil
}

func safeJoin(dest, name string) (string, error) {
	clean := path.Clean("/" + name)
	target := filepath.Join(dest, filepath.FromSlash(clean))
	if target != dest && !strings.HasPrefix(target, dest+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}
