/*
# mpih Protocol

mpih commands talk to the local 'mpih init' daemon over a Unix domain
socket. A request begins with a single ASCII header line terminated by
'\n'; depending on the verb, the header is followed by a raw byte
stream on the same socket.

    ----------    ----------    ----------
    | mpih   |    | mpih   |    | mpih   |
    | send 1 |    | recv 0 |    | rank   |
    ----------    ----------    ----------
         \             |            /
          \            |           /
          ------------------------------
          |  mpih init daemon (rank N) |
          ------------------------------
                       |
                 peer transport
                       |
          ------------------------------
          |  mpih init daemon (rank M) |
          ------------------------------

## Header lines

A header line is at most 256 bytes including the terminating newline.
A connection that accumulates more than 256 bytes without a newline is
closed. An unknown or malformed header is logged by the daemon and the
connection stays open, waiting for the next header line.

    RANK\n             reply: "<rank>\n"
    SIZE\n             reply: "<size>\n"
    SEND <peer>\n      followed by raw bytes until the client closes
                       its write half; no reply
    RECV <peer>\n      reply: raw bytes received from <peer>, then the
                       daemon closes the socket at end-of-stream
    FINALIZE\n         no reply; the socket is closed when the daemon
                       has drained all transfers and shut down

## Peer wire framing

Between two daemons, a stream on one channel (direction, peer, tag) is
a sequence of chunks. Each chunk is transferred as two transport
messages on the same tag:

    4 byte size    - a big-endian int32, the chunk length in bytes
    <size> bytes   - the chunk payload

A size of zero terminates the stream and carries no payload. Chunks
are at most MaxChunkSize bytes; longer streams are split into multiple
chunks. The transport's FIFO guarantee on a (peer, tag) pair ensures
the receiver always sees size-then-payload in order.
*/
package protocol
