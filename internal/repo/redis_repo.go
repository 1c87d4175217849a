package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/models"
	"github.com/redis/go-redis/v9"
)

type RedisChatRepo struct{ rdb *redis.Client }

func NewRedisChatRepo(rdb *redis.Client) *RedisChatRepo {
	return &RedisChatRepo{rdb: rdb}
}

func roomKey(id string) string {
	return fmt.Sprintf("rooms:%s", id)
}
func msgsKey(id string) string {
	return fmt.Sprintf("rooms:%s:msgs", id)
}
func orderKey(id string) string {
	return fmt.Sprintf("rooms:%s:order", id)
}
func userRoomsKey(uid string) string {
	return fmt.Sprintf("users:%s:rooms", uid)
}
func trackKey(uid string) string {
	return fmt.Sprintf("users:%s:track", uid)
}

func sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func (rr *RedisChatRepo) CreateRoom(ctx context.Context, room models.Room, ttlSec int) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	ok, err := rr.rdb.SetArgs(ctx, roomKey(room.Id), b, redis.SetArgs{Mode: "NX", TTL: sec(ttlSec)}).Result()
	if err != nil {
		return err
	}
	if ok != "OK" {
		return errors.New("room already exists")
	}
	return nil
}

func (rr *RedisChatRepo) GetRoom(ctx context.Context, roomId string) (models.Room, bool, error) {
	val, err := rr.rdb.Get(ctx, roomKey(roomId)).Bytes()
	if err == redis.Nil { // データがない
		return models.Room{}, false, nil
	}
	if err != nil {
		return models.Room{}, false, err
	}
	var r models.Room
	if err := json.Unmarshal(val, &r); err != nil {
		return models.Room{}, false, err
	}
	return r, true, nil
}

func (rr *RedisChatRepo) SetRoom(ctx context.Context, room models.Room) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return rr.rdb.Set(ctx, roomKey(room.Id), b, redis.KeepTTL).Err()
}

func (rr *RedisChatRepo) DeleteRoom(ctx context.Context, roomId string) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local room_key = KEYS[1]
		local msgs_key = KEYS[2]
		local order_key = KEYS[3]
		local room_id = ARGV[1]

		-- 参加者のルームセットから除去
		local raw = redis.call('GET', room_key)
		if raw then
			local room = cjson.decode(raw)
			if room.participants then
				for _, p in ipairs(room.participants) do
					redis.call('SREM', 'users:' .. p.userId .. ':rooms', room_id)
					redis.call('HDEL', 'users:' .. p.userId .. ':track', room_id)
				end
			end
		end

		redis.call('DEL', room_key, msgs_key, order_key)
		return 'OK'
	`
	return rr.rdb.Eval(ctx, script, []string{roomKey(roomId), msgsKey(roomId), orderKey(roomId)}, roomId).Err()
}

func (rr *RedisChatRepo) ExistsRoom(ctx context.Context, roomId string) (bool, error) {
	n, err := rr.rdb.Exists(ctx, roomKey(roomId)).Result()
	return n == 1, err
}

func (rr *RedisChatRepo) AddUserRoom(ctx context.Context, userId, roomId string) error {
	return rr.rdb.SAdd(ctx, userRoomsKey(userId), roomId).Err()
}

func (rr *RedisChatRepo) RemoveUserRoom(ctx context.Context, userId, roomId string) error {
	pipe := rr.rdb.TxPipeline()
	pipe.SRem(ctx, userRoomsKey(userId), roomId)
	pipe.HDel(ctx, trackKey(userId), roomId)
	_, err := pipe.Exec(ctx)
	return err
}

func (rr *RedisChatRepo) ListRooms(ctx context.Context, userId string) ([]models.Room, error) {
	ids, err := rr.rdb.SMembers(ctx, userRoomsKey(userId)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}

	// 一括取得
	vals, err := rr.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]models.Room, 0, len(ids))
	for _, val := range vals {
		if val == nil {
			continue
		}
		b, ok := val.(string)
		if !ok {
			continue
		}
		var r models.Room
		if json.Unmarshal([]byte(b), &r) == nil {
			res = append(res, r)
		}
	}
	return res, nil
}

func (rr *RedisChatRepo) AppendMessage(ctx context.Context, msg models.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := rr.rdb.TxPipeline()
	pipe.HSet(ctx, msgsKey(msg.RoomId), msg.Id, b) // 本体をハッシュに格納
	pipe.RPush(ctx, orderKey(msg.RoomId), msg.Id)  // 到着順リストに追加
	_, err = pipe.Exec(ctx)
	return err
}

func (rr *RedisChatRepo) GetMessage(ctx context.Context, roomId, msgId string) (models.Message, bool, error) {
	val, err := rr.rdb.HGet(ctx, msgsKey(roomId), msgId).Bytes()
	if err == redis.Nil {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, err
	}
	var m models.Message
	if err := json.Unmarshal(val, &m); err != nil {
		return models.Message{}, false, err
	}
	return m, true, nil
}

func (rr *RedisChatRepo) UpdateMessage(ctx context.Context, msg models.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return rr.rdb.HSet(ctx, msgsKey(msg.RoomId), msg.Id, b).Err()
}

func (rr *RedisChatRepo) DeleteMessage(ctx context.Context, roomId, msgId string) error {
	// Luaスクリプトでアトミックに処理
	script := `
		redis.call('HDEL', KEYS[1], ARGV[1])
		redis.call('LREM', KEYS[2], 1, ARGV[1])
		return 'OK'
	`
	return rr.rdb.Eval(ctx, script, []string{msgsKey(roomId), orderKey(roomId)}, msgId).Err()
}

func (rr *RedisChatRepo) ListMessages(ctx context.Context, roomId string) ([]models.Message, error) {
	ids, err := rr.rdb.LRange(ctx, orderKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	vals, err := rr.rdb.HMGet(ctx, msgsKey(roomId), ids...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]models.Message, 0, len(ids))
	for _, val := range vals {
		if val == nil {
			continue
		}
		b, ok := val.(string)
		if !ok {
			continue
		}
		var m models.Message
		if json.Unmarshal([]byte(b), &m) == nil {
			res = append(res, m)
		}
	}
	return res, nil
}

func (rr *RedisChatRepo) SaveTrack(ctx context.Context, userId string, track models.RoomMessageTrack) error {
	return rr.rdb.HSet(ctx, trackKey(userId), track.RoomId, track.ScrollPos).Err()
}

func (rr *RedisChatRepo) ListTracks(ctx context.Context, userId string) ([]models.RoomMessageTrack, error) {
	vals, err := rr.rdb.HGetAll(ctx, trackKey(userId)).Result()
	if err != nil {
		return nil, err
	}
	res := make([]models.RoomMessageTrack, 0, len(vals))
	for roomId, pos := range vals {
		p, err := strconv.Atoi(pos)
		if err != nil {
			continue
		}
		res = append(res, models.RoomMessageTrack{RoomId: roomId, ScrollPos: p})
	}
	return res, nil
}
