// Package image implements fetching images from video sources and showing
// them on a preview surface.
package image
