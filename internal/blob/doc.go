// Package blob stores uploaded files in object storage.
//
// Store is the single operation the rest of the service needs: put a stream
// under a key and get back a URL. AzureStore talks to Azure Blob Storage and
// LocalStore writes to disk for development. Neither retries; a failed Put is
// reported once to the caller.
package blob
