package encoder

// BGRA -> planar conversion shaders. All variants run in 8x8 thread groups
// over the full frame; chroma-subsampled formats fold their neighborhood
// average into the thread that lands on the sampling site. Color conversion
// coefficients (kr, kb) arrive via push constants so one shader body covers
// BT.709 and BT.601, always producing MPEG (limited) range.

const convertCommon = `
#version 450

layout(local_size_x = 8, local_size_y = 8, local_size_z = 1) in;

layout(push_constant) uniform Push {
    ivec2 size;
    float kr;
    float kb;
} push;

layout(binding = 0, rgba8) readonly uniform image2D src;

float lumaOf(vec3 c) {
    float kg = 1.0 - push.kr - push.kb;
    float ey = push.kr * c.r + kg * c.g + push.kb * c.b;
    return (16.0 + 219.0 * ey) / 255.0;
}

vec2 chromaOf(vec3 c) {
    float kg = 1.0 - push.kr - push.kb;
    float ey = push.kr * c.r + kg * c.g + push.kb * c.b;
    float pb = 0.5 * (c.b - ey) / (1.0 - push.kb);
    float pr = 0.5 * (c.r - ey) / (1.0 - push.kr);
    return (vec2(128.0) + 224.0 * vec2(pb, pr)) / 255.0;
}
`

const convertNV12Shader = convertCommon + `
layout(binding = 1, r8) writeonly uniform image2D planeY;
layout(binding = 2, rg8) writeonly uniform image2D planeUV;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }

    vec3 c = imageLoad(src, xy).rgb;
    imageStore(planeY, xy, vec4(lumaOf(c), 0.0, 0.0, 0.0));

    if ((xy.x & 1) == 0 && (xy.y & 1) == 0) {
        vec3 sum = c;
        sum += imageLoad(src, xy + ivec2(1, 0)).rgb;
        sum += imageLoad(src, xy + ivec2(0, 1)).rgb;
        sum += imageLoad(src, xy + ivec2(1, 1)).rgb;
        vec2 uv = chromaOf(sum * 0.25);
        imageStore(planeUV, xy / 2, vec4(uv, 0.0, 0.0));
    }
}
`

const convertYUV422Shader = convertCommon + `
layout(binding = 1, r8) writeonly uniform image2D planeY;
layout(binding = 2, r8) writeonly uniform image2D planeU;
layout(binding = 3, r8) writeonly uniform image2D planeV;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }

    vec3 c = imageLoad(src, xy).rgb;
    imageStore(planeY, xy, vec4(lumaOf(c), 0.0, 0.0, 0.0));

    if ((xy.x & 1) == 0) {
        vec3 pair = (c + imageLoad(src, xy + ivec2(1, 0)).rgb) * 0.5;
        vec2 uv = chromaOf(pair);
        ivec2 cxy = ivec2(xy.x / 2, xy.y);
        imageStore(planeU, cxy, vec4(uv.x, 0.0, 0.0, 0.0));
        imageStore(planeV, cxy, vec4(uv.y, 0.0, 0.0, 0.0));
    }
}
`

const convertYUV444Shader = convertCommon + `
layout(binding = 1, r8) writeonly uniform image2D planeY;
layout(binding = 2, r8) writeonly uniform image2D planeU;
layout(binding = 3, r8) writeonly uniform image2D planeV;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }

    vec3 c = imageLoad(src, xy).rgb;
    vec2 uv = chromaOf(c);
    imageStore(planeY, xy, vec4(lumaOf(c), 0.0, 0.0, 0.0));
    imageStore(planeU, xy, vec4(uv.x, 0.0, 0.0, 0.0));
    imageStore(planeV, xy, vec4(uv.y, 0.0, 0.0, 0.0));
}
`

// bgr0 needs no color math: just the byte order the rgb encoder expects.
const convertBGR0Shader = convertCommon + `
layout(binding = 1, rgba8) writeonly uniform image2D planeBGR0;

void main() {
    ivec2 xy = ivec2(gl_GlobalInvocationID.xy);
    if (xy.x >= push.size.x || xy.y >= push.size.y) {
        return;
    }
    vec3 c = imageLoad(src, xy).rgb;
    imageStore(planeBGR0, xy, vec4(c.b, c.g, c.r, 0.0));
}
`
