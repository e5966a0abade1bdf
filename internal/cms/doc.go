// Package cms reads draft articles from the content backend.
//
// Two backends implement preview.Source:
//
//   - StrapiClient queries a Strapi REST API with publicationState=preview.
//   - S3Source reads a static export laid out as {prefix}/{slug}.json, each
//     object holding the same {"data": [...]} document Strapi would return.
//
// New picks the backend from the scheme of the content base URL. Both
// backends implement Pinger, which the ops listener uses to report whether
// the content origin is reachable.
package cms
