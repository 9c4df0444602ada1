package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// audioMIME maps an audio file extension to its MIME type. Telegram voice
// notes arrive as .ogg; the rest covers files uploaded through the API.
func audioMIME(ext string) string {
	switch strings.ToLower(ext) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "audio/ogg"
	}
}

func imageMIME(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// shardedImagePath builds <imagesDir>/<xx>/<yy>/<id>_<slug><ext> where xx
// and yy are the first hex character pairs of the element id. Two shard
// levels keep directory sizes flat as the corpus grows.
func shardedImagePath(imagesDir, elementID, slug, ext string) string {
	hex := strings.ReplaceAll(elementID, "-", "")
	return filepath.Join(imagesDir, hex[:2], hex[2:4], fmt.Sprintf("%s_%s%s", elementID, slug, ext))
}

// docPath builds <docsDir>/<name>_<suffix><ext>.
func docPath(docsDir, filename, suffix string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	return filepath.Join(docsDir, fmt.Sprintf("%s_%s%s", base, suffix, ext))
}

// voicePath builds <mediaDir>/voice/<YYYY>/<MM>/<DD>/<name>_<suffix><ext>.
// The unique suffix prevents collisions between same-named uploads.
func voicePath(mediaDir, filename, suffix string, now time.Time) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".ogg"
	}
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	return filepath.Join(
		mediaDir, "voice",
		now.UTC().Format("2006"), now.UTC().Format("01"), now.UTC().Format("02"),
		fmt.Sprintf("%s_%s%s", base, suffix, ext),
	)
}
