package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Namespaces used by bootseq. Objects are addressed by (namespace, name).
const (
	// NamespaceBlobs holds content-addressed layer blobs named by digest.
	NamespaceBlobs = "blobs"
	// NamespaceArtifacts holds artifact config documents named "<id>.json".
	NamespaceArtifacts = "artifacts"
	// NamespaceRuntimes holds base runtime layers named "<name>/<tag>".
	NamespaceRuntimes = "runtimes"
	// NamespaceTags maps tags to artifact IDs when no Redis registry is
	// configured.
	NamespaceTags = "tags"
)

// Store persists build objects. Everything except tags is written once.
type Store interface {
	Put(ctx context.Context, namespace, name string, content []byte) error
	Get(ctx context.Context, namespace, name string) ([]byte, error)
	GetURL(ctx context.Context, namespace, name string) (string, error)
	List(ctx context.Context, namespace string) ([]string, error)
}

var ErrNotFound = errors.New("object not found")

// normalize validates and trims a (namespace, name) pair.
func normalize(namespace, name string) (string, string, error) {
	namespace, err := normalizeNamespace(namespace)
	if err != nil {
		return "", "", err
	}
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", "", fmt.Errorf("name is required")
	}
	if cleaned := path.Clean(name); cleaned != name || strings.HasPrefix(cleaned, "..") {
		return "", "", fmt.Errorf("invalid name: %s", name)
	}
	return namespace, name, nil
}

func normalizeNamespace(namespace string) (string, error) {
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	if namespace == "" {
		return "", fmt.Errorf("namespace is required")
	}
	if strings.Contains(namespace, "..") || strings.Contains(namespace, "/") {
		return "", fmt.Errorf("invalid namespace: %s", namespace)
	}
	return namespace, nil
}

// objectKey is the flat key layout shared by the memory and S3 stores.
func objectKey(namespace, name string) string {
	return namespace + "/" + name
}
