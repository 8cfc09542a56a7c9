/*
Package downloader fetches chain data from a remote source for the staged
sync. Sync refers to the process of catching up with the canonical chain;
the downloader only moves data, judging it is left to the stages.

Data is exposed as pull based streams so that a stage drives the pace of the
network and can stop at any time.

Headers: a HeaderStream starts at a trusted tip hash and walks backwards
through the parent hashes, yielding headers in descending order. Batches are
requested ahead of the consumer so that validation and fetching overlap. The
stream is finite, it ends after the genesis header or when the consumer
closes it, which the headers stage does as soon as it reaches a header it
already has.

Bodies: a BodyStream yields the bodies of a known list of block hashes in
ascending order. Batches are fetched by a bounded number of workers and
reordered, a partial response is completed by re-requesting the remainder.

Every request is paced by an optional rate limit and retried with
exponential backoff. Once the attempts are exhausted the stream fails with a
*FetchError, which the pipeline treats as transient: the pass is retried but
no data is unwound.

There are two sync modes:

Full: run all stages, downloading headers and bodies, recovering senders and
executing every block to build the plain state.

Light: download and validate headers only.
*/
package downloader
