package models

import (
	"mime"
	"path"
	"strings"
	"time"
)

const (
	DefaultContentType = "application/octet-stream"

	// HTMLCacheControl keeps browsers revalidating while letting the edge hold documents briefly.
	HTMLCacheControl = "public, max-age=0, s-maxage=300, must-revalidate"
	// AssetCacheControl is used for everything that is not an HTML document.
	AssetCacheControl = "public, max-age=31536000, immutable"

	IndexDocument = "index.html"
)

var webContentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".js":          "application/javascript; charset=utf-8",
	".mjs":         "application/javascript; charset=utf-8",
	".json":        "application/json",
	".map":         "application/json",
	".webmanifest": "application/manifest+json",
	".txt":         "text/plain; charset=utf-8",
	".xml":         "application/xml",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".webp":        "image/webp",
	".avif":        "image/avif",
	".ico":         "image/x-icon",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".otf":         "font/otf",
	".wasm":        "application/wasm",
	".pdf":         "application/pdf",
	".mp4":         "video/mp4",
	".webm":        "video/webm",
}

// ContentTypeFor infers a content type from the file extension only.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return DefaultContentType
	}
	if ct, ok := webContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return DefaultContentType
}

// IsHTML reports whether name is an HTML document by extension.
func IsHTML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// CacheControlFor returns the cache policy for a file.
func CacheControlFor(name string) string {
	if IsHTML(name) {
		return HTMLCacheControl
	}
	return AssetCacheControl
}

// ObjectKey builds {tenantID}/{basePrefix}/{relPath}. Empty segments are dropped
// and stray slashes trimmed so the tenant prefix is always exactly "tenantID/".
func ObjectKey(tenantID, basePrefix, relPath string) string {
	parts := []string{tenantID}
	if p := strings.Trim(basePrefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, strings.TrimLeft(relPath, "/"))
	return strings.Join(parts, "/")
}

// TenantPrefix is the key prefix owning all of a tenant's objects.
func TenantPrefix(tenantID string) string {
	return tenantID + "/"
}

type FailedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type DeploymentResult struct {
	DeploymentID          string       `json:"deployment_id"`
	TenantID              string       `json:"tenant_id"`
	Success               bool         `json:"success"`
	FilesUploaded         int          `json:"files_uploaded"`
	TotalSizeBytes        int64        `json:"total_size_bytes"`
	DeploymentTimeSeconds float64      `json:"deployment_time_seconds"`
	ErrorMessage          *string      `json:"error_message,omitempty"`
	FailedFiles           []FailedFile `json:"failed_files"`
}

// FailedPaths lists the relative paths of files that did not upload.
func (r *DeploymentResult) FailedPaths() []string {
	paths := make([]string, 0, len(r.FailedFiles))
	for _, f := range r.FailedFiles {
		paths = append(paths, f.Path)
	}
	return paths
}

type DeploymentStatus struct {
	TenantID       string     `json:"tenant_id"`
	ObjectCount    int        `json:"object_count"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
}
