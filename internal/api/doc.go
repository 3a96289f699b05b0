// Package api hosts the portal gateway: a chi router in front of the backend façades.
// Routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/workspaces/{namespace}/{name}/buckets/{bucket}/objects?prefix= lists a bucket
//     level, recovering requester-pays failures.
//   - GET /v1/workspaces/{namespace}/{name}/notebooks/{notebook}/launch?mode= resolves the
//     launcher view; POST .../mode applies an Edit or Playground choice.
//   - GET /v1/explorer/{dataset}/frame and POST /v1/explorer/{dataset}/messages embed the
//     Data Explorer.
//   - GET /v1/library/explorer/frame?origin= and POST /v1/library/explorer/{dataset}/messages
//     embed an explorer whose origin travels in the link.
package api
