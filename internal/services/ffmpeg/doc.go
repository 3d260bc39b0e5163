// Package ffmpeg wraps the ffmpeg CLI for the image conversions the pipeline
// performs: TIFF masters, JPEG access copies, resizing, and text watermarks.
package ffmpeg
