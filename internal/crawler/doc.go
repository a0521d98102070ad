// Package crawler defines the values and collaborator interfaces shared by the
// listing crawl, detail extraction, and persistence stages. Browser drivers,
// the job API client, blob stores, and publishers all satisfy interfaces
// declared here so the stages stay agnostic about which implementation runs.
package crawler
