// Package exiftool writes metadata tags into image files with ExifTool.
package exiftool
