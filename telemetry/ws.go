// Package telemetry 提供调试遥测: 内置 WebSocket 服务端 + 限速帧元数据广播。
// 只做旁路输出, 任何情况下不反压采集链路。
package telemetry

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// websocketGUID RFC6455 固定魔串, 握手摘要用
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	opcodeText  = 0x1
	opcodeClose = 0x8
	opcodePing  = 0x9
	opcodePong  = 0xA

	// writeTimeout 单客户端写超时, 慢客户端直接踢掉而不是拖住广播
	writeTimeout = 2 * time.Second

	maxInboundPayload = 64 * 1024
)

// computeAcceptKey 按 RFC6455 计算握手响应键
func computeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type client struct {
	id   string
	conn net.Conn

	// mu 串行化对同一连接的写入 (广播与 Pong 可能并发)
	mu sync.Mutex
}

func (c *client) writeFrame(opcode byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	// 服务端发出的帧不掩码, FIN 置位
	header := make([]byte, 0, 10)
	header = append(header, 0x80|opcode)
	switch n := len(payload); {
	case n < 126:
		header = append(header, byte(n))
	case n <= 0xFFFF:
		header = append(header, 126, byte(n>>8), byte(n))
	default:
		header = append(header, 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		header = append(header, ext[:]...)
	}
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	_, err := c.conn.Write(payload)
	return err
}

// Server 内置的调试 WebSocket 服务端。
// 客户端表用短持锁保护, 广播时先拷快照再逐个发送, 网络 IO 不在锁内。
type Server struct {
	listener net.Listener

	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	wg sync.WaitGroup
}

// NewServer 监听给定端口并开始接受连接, port 为 0 时由系统分配
func NewServer(port int) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("遥测端口监听失败: %w", err)
	}
	s := &Server{
		listener: listener,
		clients:  make(map[string]*client),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	log.Info().Str("addr", listener.Addr().String()).Msg("调试遥测服务已启动")
	return s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ClientCount 当前已完成握手的客户端数
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	reader := bufio.NewReader(conn)
	if err := handshake(conn, reader); err != nil {
		log.Debug().Err(err).Msg("遥测握手失败")
		conn.Close()
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c.id] = c
	s.mu.Unlock()
	log.Info().Str("client", c.id).Msg("遥测客户端接入")

	s.readLoop(c, reader)

	s.removeClient(c.id)
	conn.Close()
}

// handshake 校验 HTTP Upgrade 请求并回 101
func handshake(conn net.Conn, reader *bufio.Reader) error {
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("读取请求行失败: %w", err)
	}
	if !strings.HasPrefix(requestLine, "GET ") {
		return fmt.Errorf("非 GET 请求: %q", strings.TrimSpace(requestLine))
	}

	headers := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("读取请求头失败: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			name := strings.ToLower(strings.TrimSpace(line[:idx]))
			headers[name] = strings.TrimSpace(line[idx+1:])
		}
	}

	if !strings.EqualFold(headers["upgrade"], "websocket") {
		return fmt.Errorf("缺少 Upgrade: websocket 头")
	}
	key := headers["sec-websocket-key"]
	if key == "" {
		return fmt.Errorf("缺少 Sec-WebSocket-Key 头")
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err = conn.Write([]byte(response))
	return err
}

// readLoop 读入站帧直到关闭。调试端是纯接收方,
// Text/Binary 一律丢弃, 只处理 Ping 和 Close 控制帧。
func (s *Server) readLoop(c *client, reader *bufio.Reader) {
	for {
		opcode, payload, err := readClientFrame(reader)
		if err != nil {
			if err != io.EOF {
				log.Debug().Str("client", c.id).Err(err).Msg("遥测连接读取失败")
			}
			return
		}
		switch opcode {
		case opcodePing:
			if err := c.writeFrame(opcodePong, payload); err != nil {
				return
			}
		case opcodeClose:
			// 回应 Close 后由调用方拆连接
			_ = c.writeFrame(opcodeClose, nil)
			return
		default:
		}
	}
}

// readClientFrame 解析一个客户端帧并去掩码。
// RFC6455 要求客户端帧必须掩码, 未掩码视为协议错误。
func readClientFrame(reader *bufio.Reader) (byte, []byte, error) {
	var head [2]byte
	if _, err := io.ReadFull(reader, head[:]); err != nil {
		return 0, nil, err
	}
	opcode := head[0] & 0x0F
	masked := head[1]&0x80 != 0
	length := uint64(head[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(reader, ext[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(reader, ext[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if !masked {
		return 0, nil, fmt.Errorf("客户端帧未掩码")
	}
	if length > maxInboundPayload {
		return 0, nil, fmt.Errorf("入站帧过大: %d 字节", length)
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(reader, maskKey[:]); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}
	return opcode, payload, nil
}

// Broadcast 把一条文本消息发给所有客户端, 写失败的客户端直接移除
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	snapshot := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		if err := c.writeFrame(opcodeText, payload); err != nil {
			log.Debug().Str("client", c.id).Err(err).Msg("遥测广播失败, 移除客户端")
			s.removeClient(c.id)
			c.conn.Close()
		}
	}
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	if _, ok := s.clients[id]; ok {
		delete(s.clients, id)
		log.Info().Str("client", id).Msg("遥测客户端断开")
	}
	s.mu.Unlock()
}

// Close 停止监听并断开全部客户端
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	snapshot := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	s.listener.Close()
	for _, c := range snapshot {
		_ = c.writeFrame(opcodeClose, nil)
		c.conn.Close()
	}
	s.wg.Wait()
}
