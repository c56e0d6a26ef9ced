// Package deploy pushes the bundled public assets to S3 so a CDN or
// bucket website can serve them in production.
package deploy
