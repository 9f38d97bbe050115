// Package api defines the request and response shapes of the InkFlow HTTP API.
//
// # API Overview
//
// InkFlow turns an outline of pages into one generated image per page:
//   - POST /api/generate streams progress as Server-Sent Events
//   - POST /api/retry-failed re-runs the failed pages of a task, also as SSE
//   - POST /api/retry and POST /api/regenerate handle one page and answer JSON
//   - GET /api/task/{taskID} reports which pages are generated or failed
//   - GET /api/images/{taskID}/{filename} serves stored images and thumbnails
//   - GET /api/generate/ws is the WebSocket variant of /api/generate
//   - POST /api/history, GET /api/history/{taskID} and
//     POST /api/history/{taskID}/sync manage the history record of a task
//
// # Events
//
// Streams carry one "image" or "error" event per requested page followed by
// exactly one "complete" event:
//
//	event: image
//	data: {"index":1,"status":"done","image_url":"/api/images/t/1.png","filename":"1.png"}
//
// # Authentication
//
// When JWT is configured every /api route requires a bearer token:
//
//	Authorization: Bearer <token>
//
// Image URLs may carry the token as the "token" query parameter. Without JWT
// configuration all requests act as the anonymous user.
//
// # Base URL
//
//	http://localhost:8080
package api
